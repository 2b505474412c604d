package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
}

func TestCreateWebSocketEchoRoundtrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := CreateWebSocket(ctx, wsURL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.Close()

	if h.Type() != TypeWebSocket {
		t.Fatalf("expected TypeWebSocket, got %v", h.Type())
	}
	if err := h.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	in := h.Incoming()
	if err := in.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer in.Unlock()
	chunk, err := in.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(chunk) != "hello" {
		t.Fatalf("got %q", chunk)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := CreateWebSocket(ctx, wsURL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestE2EEncryptDecryptRoundtrip(t *testing.T) {
	alicePriv, alicePub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("alice keypair: %v", err)
	}
	bobPriv, bobPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("bob keypair: %v", err)
	}

	aliceGCM, err := DeriveSharedKey(alicePriv, bobPub)
	if err != nil {
		t.Fatalf("alice derive: %v", err)
	}
	bobGCM, err := DeriveSharedKey(bobPriv, alicePub)
	if err != nil {
		t.Fatalf("bob derive: %v", err)
	}

	encoded, err := EncryptMessage(aliceGCM, []byte("secret payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := DecryptMessage(bobGCM, encoded)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != "secret payload" {
		t.Fatalf("got %q", plain)
	}
}
