package fixnet_test

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcfix/fixrelay/internal/fix"
	"github.com/arcfix/fixrelay/internal/fixnet"
	"github.com/arcfix/fixrelay/internal/session"
)

func encodeLogon(t *testing.T, sender, target string, seq int64) []byte {
	t.Helper()
	raw, err := fix.Encode(fix.MsgTypeLogon, &fix.LogonBody{HeartBtInt: 30}, fix.OutboundHeader{
		BeginString:  "FIX.4.2",
		SenderCompID: sender,
		TargetCompID: target,
		MsgSeqNum:    seq,
		SendingTime:  time.Now(),
	})
	require.NoError(t, err)
	return raw
}

func TestConnReadMessageFramesOneMessageAtATime(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	msg1 := encodeLogon(t, "BROKER1", "RELAY", 1)
	msg2 := encodeLogon(t, "BROKER1", "RELAY", 2)

	go func() {
		_, _ = client.Write(msg1)
		_, _ = client.Write(msg2)
	}()

	conn := fixnet.NewConn(server)

	got1, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, msg1, got1)

	got2, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, msg2, got2)
}

func TestAcceptorDemuxesBySenderAndTargetCompID(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfgA := session.Config{BeginString: "FIX.4.2", SenderCompID: "RELAY", TargetCompID: "BROKER1", HeartbeatInterval: 30 * time.Second}
	cfgB := session.Config{BeginString: "FIX.4.2", SenderCompID: "RELAY", TargetCompID: "BROKER2", HeartbeatInterval: 30 * time.Second}

	mgr := session.NewManager(logger, nil)
	defer mgr.Close()

	factory := func(ctx context.Context, cfg session.Config, proxy session.SessionProxy, now time.Time) (*session.Session, error) {
		if _, ok := mgr.Lookup(cfg.Key()); ok {
			_ = mgr.DestroySession(ctx, cfg.Key(), now)
		}
		return mgr.CreateSession(ctx, cfg, proxy, now)
	}

	acc, err := fixnet.NewAcceptor("127.0.0.1:0", []session.Config{cfgA, cfgB}, factory, logger)
	require.NoError(t, err)
	defer acc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acc.Serve(ctx)

	nc, err := net.Dial("tcp", acc.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	logon := encodeLogon(t, "BROKER2", "RELAY", 1)
	_, err = nc.Write(logon)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := mgr.Lookup(cfgB.Key())
		return ok
	}, time.Second, 10*time.Millisecond)

	_, ok := mgr.Lookup(cfgA.Key())
	assert.False(t, ok)
}
