/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


// Package notify sends email to people whose subset jobs have finished.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset"
	"github.com/spatialmodel/gridsubset/jobstore"
)

// Sender sends a plain text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailer is a Sender that sends email through an SMTP server,
// retrying failed attempts with exponential backoff.
type Mailer struct {
	// Addr is the host:port of the SMTP server.
	Addr string

	// User and Password are used for PLAIN authentication if User is
	// not empty.
	User, Password string

	// From is the sender address. ReplyTo, if not empty, is added
	// as a Reply-To header.
	From, ReplyTo string

	// MaxRetries is the number of times a failed attempt is retried.
	MaxRetries uint64

	// RetryInterval is the wait before the first retry. It grows
	// exponentially for later retries.
	RetryInterval time.Duration

	Log logrus.FieldLogger

	// sendMail is smtp.SendMail unless replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// Send sends a message to the address to.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.Addr == "" {
		return fmt.Errorf("notify: no SMTP server configured")
	}
	var auth smtp.Auth
	if m.User != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			return fmt.Errorf("notify: invalid SMTP address: %w", err)
		}
		auth = smtp.PlainAuth("", m.User, m.Password, host)
	}
	send := m.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	msg := m.message(to, subject, body)

	b := backoff.NewExponentialBackOff()
	if m.RetryInterval > 0 {
		b.InitialInterval = m.RetryInterval
	}
	log := m.log().WithField("to", to)
	err := backoff.RetryNotify(func() error {
		return send(m.Addr, auth, m.From, []string{to}, msg)
	}, backoff.WithContext(backoff.WithMaxRetries(b, m.MaxRetries), ctx),
		func(err error, wait time.Duration) {
			log.WithError(err).WithField("wait", wait).Warn("retrying email")
		})
	if err != nil {
		return fmt.Errorf("notify: sending email to %s: %w", to, err)
	}
	log.WithField("subject", subject).Debug("sent email")
	return nil
}

func (m *Mailer) log() logrus.FieldLogger {
	if m.Log != nil {
		return m.Log
	}
	return logrus.StandardLogger()
}

// message formats an RFC 5322 message with a UTF-8 plain text body.
func (m *Mailer) message(to, subject, body string) []byte {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", m.From)
	header("To", to)
	if m.ReplyTo != "" {
		header("Reply-To", m.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(strings.Replace(strings.TrimRight(body, "\n"), "\n", "\r\n", -1))
	b.WriteString("\r\n")
	return b.Bytes()
}

// These are the subjects of notification messages.
const (
	SubjectAvailable = "Data Available"
	SubjectFailed    = "Data Request Failed"
)

// Notifier tells requesters by email that their job has finished.
// It implements jobstore.Notifier.
type Notifier struct {
	Sender Sender

	// PublicURL is the address of the HTTP server as seen by users.
	// Download and job list links are relative to it.
	PublicURL string

	// Name, if not empty, is put before the subject, as in
	// "TAMSAT Data Available".
	Name string
}

// JobFinished sends to a message with a download link for a successful
// job, or a link to the job list for a failed one.
func (n *Notifier) JobFinished(ctx context.Context, to gridsubset.Identity, job jobstore.Finished) error {
	subject, body := n.Message(to, job)
	return n.Sender.Send(ctx, to.Email, subject, body)
}

// Message returns the subject and body of the message about job sent
// to a requester.
func (n *Notifier) Message(to gridsubset.Identity, job jobstore.Finished) (subject, body string) {
	var b strings.Builder
	name := n.Name
	if name != "" {
		name += " "
	}
	if job.Success {
		subject = SubjectAvailable
		fmt.Fprintf(&b, "Your %sdata is available to download at:\n", name)
		fmt.Fprintln(&b, n.link("data", url.Values{"ID": {job.ID}}))
	} else {
		subject = SubjectFailed
		fmt.Fprintf(&b, "Your %sdata request could not be completed:\n", name)
		fmt.Fprintln(&b, job.Err)
	}
	fmt.Fprintf(&b, "\nAll of your requests with reference %q are listed at:\n", to.Ref)
	fmt.Fprintln(&b, n.link("jobs", url.Values{"EMAIL": {to.Email}, "REF": {to.Ref}}))
	return name + subject, b.String()
}

func (n *Notifier) link(path string, q url.Values) string {
	return strings.TrimRight(n.PublicURL, "/") + "/" + path + "?" + q.Encode()
}
