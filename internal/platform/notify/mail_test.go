package notify

import (
	"context"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapAddressBook map[string]string

func (m mapAddressBook) EmailOf(_ context.Context, id string) (string, error) {
	return m[id], nil
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingSink(book AddressBook) (*MailSink, *[]capturedMail) {
	var sent []capturedMail
	s := NewMailSink(MailConfig{Host: "smtp.local", Port: 2525, From: "noreply@booknet.local"}, book)
	s.send = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return s, &sent
}

func TestMailSink_ResolvesRecipients(t *testing.T) {
	sink, sent := newCapturingSink(mapAddressBook{"alice": "alice@example.com"})

	err := sink.Deliver(context.Background(), Event{
		Kind:       KindBookReturned,
		RecordID:   "01HZX",
		BookTitle:  "Dune",
		ActorID:    "bob",
		Recipients: []string{"alice"},
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	m := (*sent)[0]
	assert.Equal(t, "smtp.local:2525", m.addr)
	assert.Equal(t, []string{"alice@example.com"}, m.to)
	assert.Contains(t, m.msg, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, m.msg, "Dune")
	assert.Contains(t, m.msg, "01HZX")
	assert.True(t, strings.Contains(m.msg, "Subject: =?UTF-8?b?"))
}

func TestMailSink_UsesExplicitAddressForRegistration(t *testing.T) {
	sink, sent := newCapturingSink(mapAddressBook{})

	err := sink.Deliver(context.Background(), Event{
		Kind: KindAccountRegistered,
		Data: map[string]string{"email": "carol@example.com", "username": "carol"},
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)
	assert.Equal(t, []string{"carol@example.com"}, (*sent)[0].to)
	assert.Contains(t, (*sent)[0].msg, "carol")
}

func TestMailSink_SkipsWhenNoAddress(t *testing.T) {
	sink, sent := newCapturingSink(mapAddressBook{})

	err := sink.Deliver(context.Background(), Event{Kind: KindBookBorrowed, Recipients: []string{"ghost"}})
	require.NoError(t, err)
	assert.Empty(t, *sent)
}

func TestMailSink_HungServerHonorsContext(t *testing.T) {
	// 接続は受けるが挨拶を返さない SMTP サーバー
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	sink := NewMailSink(MailConfig{Host: host, Port: p, From: "noreply@booknet.local"},
		mapAddressBook{"alice": "alice@example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sink.Deliver(ctx, Event{Kind: KindBookBorrowed, BookTitle: "Dune", Recipients: []string{"alice"}})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
