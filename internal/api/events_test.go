package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/earshot/internal/soundboard"
)

func TestEvents_StreamsGuildPlays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Echo())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/guilds/g/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// The subscription is registered after the upgrade completes, so keep
	// playing until the first event arrives. Plays in guild h go first on
	// every round and must never be delivered.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			for _, path := range []string{"/guilds/h/sounds/C/audio", "/guilds/g/sounds/A/audio"} {
				resp, err := http.Get(ts.URL + path)
				if err == nil {
					resp.Body.Close()
				}
			}
			select {
			case <-stop:
				return
			case <-tick.C:
			}
		}
	}()

	var p soundboard.Playback
	err = wsjson.Read(ctx, conn, &p)
	close(stop)
	<-done
	if err != nil {
		t.Fatalf("wsjson.Read: %v", err)
	}
	if p.Session != "g" || p.SoundID != "A" || p.Name != "A" {
		t.Errorf("event = %+v, want play of A in g", p)
	}

	conn.Close(websocket.StatusNormalClosure, "done")
}

func TestEvents_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/guilds/g/events")
	if rec.Code == http.StatusSwitchingProtocols || rec.Code == http.StatusOK {
		t.Errorf("code = %d, want an upgrade error", rec.Code)
	}
}
