package mail

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen opens a local TCP listener and returns an SMTPConfig pointing at it.
func listen(t *testing.T) (net.Listener, SMTPConfig) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, SMTPConfig{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		From: "shop@example.com",
	}
}

// relay speaks just enough SMTP for one delivery and reports the DATA it got.
func relay(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 relay.test ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
			switch verb {
			case "EHLO":
				_ = tp.PrintfLine("250-relay.test")
				_ = tp.PrintfLine("250 8BITMIME")
			case "HELO", "MAIL", "RCPT", "RSET", "NOOP":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				got <- string(data)
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()
	return got
}

// stalled accepts connections and never answers.
func stalled(t *testing.T, ln net.Listener) {
	t.Helper()
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
}

func TestSMTPMailer_DeliversToRelay(t *testing.T) {
	ln, cfg := listen(t)
	got := relay(t, ln)

	err := NewSMTPMailer(cfg).Send(context.Background(), Message{
		To:      []string{"ann@example.com"},
		Subject: "Your invoice",
		Text:    "Total: $9.00",
	})
	require.NoError(t, err)

	select {
	case data := <-got:
		assert.Contains(t, data, "Subject: Your invoice")
		assert.Contains(t, data, "Total: $9.00")
	case <-time.After(5 * time.Second):
		t.Fatal("relay never received DATA")
	}
}

func TestSMTPMailer_StalledRelayTimesOut(t *testing.T) {
	ln, cfg := listen(t)
	stalled(t, ln)
	cfg.Timeout = 100 * time.Millisecond

	start := time.Now()
	err := NewSMTPMailer(cfg).Send(context.Background(), Message{To: []string{"ann@example.com"}, Text: "x"})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSMTPMailer_ContextCancelsDelivery(t *testing.T) {
	ln, cfg := listen(t)
	stalled(t, ln)
	cfg.Timeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewSMTPMailer(cfg).Send(ctx, Message{To: []string{"ann@example.com"}, Text: "x"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewSMTPMailer_DefaultTimeout(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 25})
	assert.Equal(t, DefaultSMTPTimeout, m.cfg.Timeout)
}
