package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSessions renders a slice of sessions in the requested format.
func formatSessions(sessions []sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatSession renders a single session in the requested format.
func formatSession(s sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(s)
	case formatTable:
		return formatSessionDetail(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatClusterStatus renders a cluster status in the requested format.
func formatClusterStatus(s clusterStatusView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(s)
	case formatTable:
		return formatClusterStatusTable(s), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatSessionsTable(sessions []sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSTATE\tNEXT-OUT-SEQ\tEXPECTED-IN-SEQ")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Key, s.State, s.NextOutSeqNum, s.ExpectedInSeqNum)
	}

	_ = w.Flush()
	return buf.String()
}

func formatSessionDetail(s sessionView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Key:\t%s\n", s.Key)
	fmt.Fprintf(w, "State:\t%s\n", s.State)
	fmt.Fprintf(w, "Next Out Seq Num:\t%d\n", s.NextOutSeqNum)
	fmt.Fprintf(w, "Expected In Seq Num:\t%d\n", s.ExpectedInSeqNum)

	_ = w.Flush()
	return buf.String()
}

func formatClusterStatusTable(s clusterStatusView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Role:\t%s\n", s.Role)
	fmt.Fprintf(w, "Term:\t%d\n", s.Term)
	if s.LeaderSessionID != 0 {
		fmt.Fprintf(w, "Leader Session ID:\t%d\n", s.LeaderSessionID)
	}
	fmt.Fprintf(w, "Position:\t%d\n", s.Position)
	fmt.Fprintf(w, "Commit Position:\t%d\n", s.CommitPosition)

	_ = w.Flush()
	return buf.String()
}
