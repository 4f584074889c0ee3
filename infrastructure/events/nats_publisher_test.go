package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func TestNATSPublisher_Publish(t *testing.T) {
	srv := startTestNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	ch := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("grading.jobs.job-1.>", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := Connect(srv.ClientURL(), "", zaptest.NewLogger(t))
	require.NoError(t, err)

	ev := domain.ObservedEvent("rhythm", 2, 1, 3, true)
	ev.JobID = "job-1"
	ev.Seq = 4
	require.NoError(t, pub.Publish(context.Background(), ev))
	require.NoError(t, pub.Publish(context.Background(), domain.Event{Type: domain.EventDone, JobID: "job-1", Status: domain.JobDone}))
	require.NoError(t, pub.Close())

	select {
	case msg := <-ch:
		assert.Equal(t, "grading.jobs.job-1.observed", msg.Subject)
		var got domain.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "rhythm", got.Evaluator)
		assert.Equal(t, 4, got.Seq)
		assert.True(t, got.Cached)
		require.NotNil(t, got.Grade)
		assert.Equal(t, domain.Grade(2), *got.Grade)
	case <-time.After(5 * time.Second):
		t.Fatal("no observed event received")
	}
	select {
	case msg := <-ch:
		assert.Equal(t, "grading.jobs.job-1.done", msg.Subject)
	case <-time.After(5 * time.Second):
		t.Fatal("no done event received")
	}

	err = pub.Publish(context.Background(), ev)
	var perr *ports.PublishError
	require.ErrorAs(t, err, &perr)
	assert.True(t, errors.Is(err, ports.ErrNotConnected))
	assert.True(t, perr.IsRetryable())
}

func TestNATSPublisher_BorrowedConnection(t *testing.T) {
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub, err := NewNATSPublisher(nc, "custom.", nil)
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.True(t, nc.IsConnected(), "a borrowed connection stays open")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pub.Publish(ctx, domain.Event{Type: domain.EventHeartbeat, JobID: "j"})
	var perr *ports.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "custom.j.heartbeat", perr.Subject)
}

func TestNewNATSPublisher_Errors(t *testing.T) {
	_, err := NewNATSPublisher(nil, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	for _, prefix := range []string{"a b", "jobs.*", "jobs.>"} {
		_, err := NewNATSPublisher(nc, prefix, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidConfiguration, prefix)
	}
}

func TestSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "p"}
	tests := []struct {
		ev   domain.Event
		want string
	}{
		{domain.Event{JobID: "abc", Type: domain.EventDone}, "p.abc.done"},
		{domain.Event{JobID: "a.b*c", Type: domain.EventEvaluator}, "p.a_b_c.evaluator"},
		{domain.Event{Type: domain.EventHeartbeat}, "p._.heartbeat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Subject(tt.ev))
	}
}

func TestNop(t *testing.T) {
	var p ports.EventPublisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), domain.Event{}))
	assert.NoError(t, p.Close())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nats.ErrConnectionClosed, true},
		{nats.ErrReconnectBufExceeded, true},
		{nats.ErrTimeout, true},
		{nats.ErrMaxPayload, false},
		{nats.ErrBadSubject, false},
	}
	for _, tt := range tests {
		perr := ports.NewPublishError("s", classify(tt.err))
		assert.Equal(t, tt.retryable, perr.IsRetryable(), tt.err.Error())
		assert.ErrorIs(t, perr, tt.err)
	}
}

func TestNATSPublisher_ReconnectBufferHint(t *testing.T) {
	nc := &nats.Conn{Opts: nats.Options{ReconnectWait: 250 * time.Millisecond}}
	p, err := NewNATSPublisher(nc, "p", nil)
	require.NoError(t, err)

	perr := p.publishError("p.j.done", nats.ErrReconnectBufExceeded)
	assert.True(t, perr.IsRetryable())
	require.NotNil(t, perr.RetryAfter)
	assert.Equal(t, 250*time.Millisecond, *perr.RetryAfter)

	perr = p.publishError("p.j.done", nats.ErrMaxPayload)
	assert.False(t, perr.IsRetryable())
	assert.Nil(t, perr.RetryAfter)
}
