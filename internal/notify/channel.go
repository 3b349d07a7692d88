package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os/exec"
	"strconv"
	"strings"

	"gopkg.in/gomail.v2"
)

// Channel is one email transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, m *gomail.Message) error
}

type Encryption string

const (
	EncryptionNone     Encryption = "none"     // plain connection, STARTTLS is never attempted
	EncryptionStartTLS Encryption = "starttls" // STARTTLS is required and the certificate verified
	EncryptionSSL      Encryption = "ssl"      // implicit TLS, usually port 465
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption Encryption
}

// SMTPChannel is the authenticated primary transport. It drives net/smtp
// over a connection bound to the caller's context and hands the message to
// gomail for writing.
type SMTPChannel struct {
	cfg SMTPConfig
}

func NewSMTPChannel(cfg SMTPConfig) (*SMTPChannel, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	switch enc := Encryption(strings.ToLower(string(cfg.Encryption))); enc {
	case EncryptionSSL, EncryptionStartTLS, EncryptionNone:
		cfg.Encryption = enc
	case "":
		cfg.Encryption = EncryptionStartTLS
	default:
		return nil, fmt.Errorf("unknown smtp encryption %q", cfg.Encryption)
	}
	return &SMTPChannel{cfg: cfg}, nil
}

func (c *SMTPChannel) Name() string { return "smtp" }

// Send closes the connection as soon as ctx is done, so a stalled server
// costs the caller its deadline and nothing after it.
func (c *SMTPChannel) Send(ctx context.Context, m *gomail.Message) error {
	if err := c.send(ctx, m); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("smtp send aborted: %w", ctx.Err())
		}
		return fmt.Errorf("failed to send via smtp %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}
	return nil
}

func (c *SMTPChannel) send(ctx context.Context, m *gomail.Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	var rw net.Conn = conn
	if c.cfg.Encryption == EncryptionSSL {
		rw = tls.Client(conn, c.tlsConfig())
	}
	client, err := smtp.NewClient(rw, c.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if c.cfg.Encryption == EncryptionStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("server does not offer STARTTLS")
		}
		if err := client.StartTLS(c.tlsConfig()); err != nil {
			return err
		}
	}
	if c.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("server does not offer AUTH")
		}
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			return err
		}
	}

	if err := gomail.Send(smtpSender{client}, m); err != nil {
		return err
	}
	return client.Quit()
}

func (c *SMTPChannel) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: c.cfg.Host}
}

type smtpSender struct {
	*smtp.Client
}

func (s smtpSender) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := s.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// SendmailChannel hands the message to the local MTA. It never authenticates
// and is only meant as a fallback.
type SendmailChannel struct {
	Path string
}

func NewSendmailChannel(path string) *SendmailChannel {
	if path == "" {
		path = "/usr/sbin/sendmail"
	}
	return &SendmailChannel{Path: path}
}

func (c *SendmailChannel) Name() string { return "sendmail" }

func (c *SendmailChannel) Send(ctx context.Context, m *gomail.Message) error {
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		args := append([]string{"-i", "-f", from, "--"}, to...)
		cmd := exec.CommandContext(ctx, c.Path, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		if _, err := msg.WriteTo(stdin); err != nil {
			stdin.Close()
			cmd.Wait()
			return err
		}
		if err := stdin.Close(); err != nil {
			cmd.Wait()
			return err
		}
		return cmd.Wait()
	})
	if err := gomail.Send(sender, m); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("sendmail aborted: %w", ctx.Err())
		}
		return fmt.Errorf("failed to send via %s: %w", c.Path, err)
	}
	return nil
}
