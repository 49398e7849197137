package ssh

import (
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGetConnConcurrentBookkeeping(t *testing.T) {
	hc := &hostConfig{address: "10.0.0.1", port: 22, user: "admin"}
	c := newClient("web1", hc, DefaultConfig(), nil)
	c.conn = &ssh.Client{}
	c.isConnected = true

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := c.getConn(); err != nil {
					t.Errorf("getConn: %v", err)
					return
				}
				_ = c.info()
			}
		}()
	}
	wg.Wait()

	if c.info().LastActivity.IsZero() {
		t.Error("expected last activity to be stamped")
	}
}

func TestGetConnErrorsWhenDisconnected(t *testing.T) {
	hc := &hostConfig{address: "10.0.0.1", port: 22, user: "admin"}
	c := newClient("web1", hc, DefaultConfig(), nil)

	if _, err := c.getConn(); err == nil {
		t.Fatal("expected error before connect")
	}
}
