package mail

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// startFakeSMTP speaks just enough SMTP on a loopback listener to accept one
// message, then reports the DATA payload it received.
func startFakeSMTP(t *testing.T) (addr string, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	payload := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		reply("220 fake ready")
		var data strings.Builder
		inData := false
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if inData {
				if line == "." {
					inData = false
					payload <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				data.WriteString("\n")
				continue
			}
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				reply("250 fake")
			case strings.HasPrefix(line, "MAIL FROM"):
				reply("250 ok")
			case strings.HasPrefix(line, "RCPT TO"):
				reply("250 ok")
			case line == "DATA":
				inData = true
				reply("354 go ahead")
			case line == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()
	return ln.Addr().String(), payload
}

func TestSendPasswordResetDeliversCode(t *testing.T) {
	addr, received := startFakeSMTP(t)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	mailer := NewPasswordResetMailer(host, port, "", "", "noreply@example.com", false)

	if err := mailer.SendPasswordReset(context.Background(), "user@example.com", "123456"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case body := <-received:
		if !strings.Contains(body, "123456") {
			t.Fatalf("expected the code in the message body, got %q", body)
		}
		if !strings.Contains(body, "To: user@example.com") {
			t.Fatalf("expected the recipient header, got %q", body)
		}
		if !strings.Contains(body, "Subject: Your password reset code") {
			t.Fatalf("expected the subject header, got %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSendHonorsContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	// Accept the connection but never send a greeting.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(3 * time.Second)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	mailer := NewPasswordResetMailer(host, port, "", "", "noreply@example.com", false)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := mailer.SendPasswordReset(ctx, "user@example.com", "123456"); err == nil {
		t.Fatal("expected an error from a stalled server")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("send should fail near the context deadline, took %v", elapsed)
	}
}
