package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/haemilhq/haemilchat/internal/auth"
	"github.com/haemilhq/haemilchat/internal/history"
	"github.com/haemilhq/haemilchat/internal/transport"
	"github.com/haemilhq/haemilchat/pkg/models"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newEchoServer answers every frame with the same cid and an annotated
// body, like the bot backend does.
func newEchoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in struct {
				CID     string `json:"cid"`
				Message string `json:"message"`
			}
			if json.Unmarshal(data, &in) != nil {
				continue
			}
			out, _ := json.Marshal(map[string]any{
				"cid":       in.CID,
				"message":   "응답: " + in.Message,
				"createdAt": time.Now().UnixMilli(),
			})
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// newPushServer sends one unsolicited frame right after the handshake.
func newPushServer(t *testing.T, text string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		out, _ := json.Marshal(map[string]any{"message": text, "createdAt": time.Now().UnixMilli()})
		_ = conn.WriteMessage(websocket.TextMessage, out)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestService(t *testing.T, url, mode string, snapshots history.SnapshotStore) *Service {
	t.Helper()
	var session *transport.Session
	if url != "" {
		session = transport.NewSession(transport.Config{
			URL:            url,
			ConnectTimeout: time.Second,
			ReplyTimeout:   2 * time.Second,
		})
	}
	svc := NewService(Options{
		Session:   session,
		Snapshots: snapshots,
		Tokens:    auth.NewTokenStore(),
		Mode:      mode,
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestOpenSeedsWelcomeMessage(t *testing.T) {
	svc := newTestService(t, "", ModeBot, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))

	visible := svc.Visible()
	require.Len(t, visible, 1)
	require.Equal(t, "welcome", visible[0].ID)
	require.Equal(t, models.SenderRemote, visible[0].Sender)

	counselor := newTestService(t, "", ModeCounselor, history.NewMemoryStore())
	require.NoError(t, counselor.Open(context.Background()))
	visible = counselor.Visible()
	require.Len(t, visible, 1)
	require.Equal(t, "welcome-counselor", visible[0].ID)
	require.Equal(t, models.SenderSystem, visible[0].Sender)
}

func TestSendConfirmsAndAppendsReply(t *testing.T) {
	svc := newTestService(t, newEchoServer(t), ModeBot, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))

	sent, err := svc.Send(context.Background(), "머리가 아파요")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, sent.Status)

	hist := svc.History()
	require.Len(t, hist, 3) // welcome, self, reply

	self := hist[1]
	require.Equal(t, sent.ID, self.ID)
	require.Equal(t, models.SenderSelf, self.Sender)
	require.Equal(t, models.StatusConfirmed, self.DeliveryStatus())

	reply := hist[2]
	require.Equal(t, sent.ID+"-bot", reply.ID)
	require.Equal(t, models.SenderRemote, reply.Sender)
	require.Equal(t, "응답: 머리가 아파요", reply.Text)
}

func TestSendFailureMarksFailedAndNotices(t *testing.T) {
	svc := newTestService(t, "ws://127.0.0.1:1/chat/ws", ModeBot, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))

	sent, err := svc.Send(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, models.StatusFailed, sent.Status)

	hist := svc.History()
	var sawFailed, sawNotice bool
	for _, m := range hist {
		if m.ID == sent.ID {
			sawFailed = m.Status == models.StatusFailed
		}
		if m.Sender == models.SenderSystem && strings.HasPrefix(m.Text, "전송 실패") {
			sawNotice = true
		}
	}
	require.True(t, sawFailed, "self message must be marked failed")
	require.True(t, sawNotice, "failure must append a system notice")
}

func TestSendEmptyRejected(t *testing.T) {
	svc := newTestService(t, "", ModeCounselor, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))

	_, err := svc.Send(context.Background(), "   \n ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Len(t, svc.History(), 1, "rejected send must not touch history")
}

func TestCounselorSendStaysLocal(t *testing.T) {
	svc := newTestService(t, "", ModeCounselor, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))

	sent, err := svc.Send(context.Background(), "상담 받고 싶어요")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, sent.Status)

	hist := svc.History()
	require.Len(t, hist, 3) // welcome, self, delivery notice
	require.Equal(t, models.SenderSystem, hist[2].Sender)
	require.Contains(t, hist[2].Text, "전달되었습니다")
}

func TestUnsolicitedPushAppended(t *testing.T) {
	svc := newTestService(t, newPushServer(t, "오늘 기분은 어떠세요?"), ModeBot, history.NewMemoryStore())

	got := make(chan models.Message, 4)
	svc.OnMessage(func(m models.Message) {
		if m.Sender == models.SenderRemote && m.ID != "welcome" {
			got <- m
		}
	})
	require.NoError(t, svc.Open(context.Background()))

	select {
	case m := <-got:
		require.Equal(t, "오늘 기분은 어떠세요?", m.Text)
		require.Contains(t, m.ID, "-push")
	case <-time.After(3 * time.Second):
		t.Fatal("push never reached the conversation")
	}
}

func TestHistorySurvivesReopen(t *testing.T) {
	snapshots := history.NewMemoryStore()

	first := newTestService(t, "", ModeCounselor, snapshots)
	require.NoError(t, first.Open(context.Background()))
	_, err := first.Send(context.Background(), "기록 유지 확인")
	require.NoError(t, err)
	want := len(first.History())
	first.Close()

	second := newTestService(t, "", ModeCounselor, snapshots)
	require.NoError(t, second.Open(context.Background()))
	hist := second.History()
	require.Len(t, hist, want, "reopen must restore the persisted history")

	var found bool
	for _, m := range hist {
		if m.Text == "기록 유지 확인" {
			found = true
		}
	}
	require.True(t, found)
}

func TestSignOutClearsConversation(t *testing.T) {
	snapshots := history.NewMemoryStore()
	tokens := auth.NewTokenStore()
	tokens.SetToken("session-token")

	svc := NewService(Options{Snapshots: snapshots, Tokens: tokens, Mode: ModeCounselor})
	t.Cleanup(svc.Close)
	require.NoError(t, svc.Open(context.Background()))
	_, err := svc.Send(context.Background(), "지워질 메시지")
	require.NoError(t, err)
	require.Greater(t, len(svc.History()), 1)

	tokens.SignOut()
	require.Empty(t, svc.History())

	// A fresh open for the signed-out identity starts from the welcome
	// message, not the old conversation.
	next := NewService(Options{Snapshots: snapshots, Tokens: tokens, Mode: ModeCounselor})
	t.Cleanup(next.Close)
	require.NoError(t, next.Open(context.Background()))
	hist := next.History()
	require.Len(t, hist, 1)
	require.Equal(t, "welcome-counselor", hist[0].ID)
}

func TestPushesSharingTimestampBothKept(t *testing.T) {
	svc := newTestService(t, "", ModeBot, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))

	ts := time.Now().UnixMilli()
	svc.handlePush(models.Frame{Message: "첫 번째 안내", CreatedAt: ts})
	svc.handlePush(models.Frame{Message: "두 번째 안내", CreatedAt: ts})

	hist := svc.History()
	require.Len(t, hist, 3) // welcome + both pushes

	// A late reply keeps its cid-derived id, so redelivery still
	// collapses.
	svc.handlePush(models.Frame{CID: "cid-9", Message: "늦은 응답", CreatedAt: ts})
	svc.handlePush(models.Frame{CID: "cid-9", Message: "늦은 응답", CreatedAt: ts})
	require.Len(t, svc.History(), 4)
}

func TestConcurrentOpenObservesCompletedState(t *testing.T) {
	svc := newTestService(t, "", ModeBot, history.NewMemoryStore())

	var wg sync.WaitGroup
	failures := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Open(context.Background()); err != nil {
				failures <- err.Error()
				return
			}
			// Once Open returns, the window must be fully seeded.
			if len(svc.Visible()) != 1 {
				failures <- "Open returned before the window was seeded"
			}
		}()
	}
	wg.Wait()
	close(failures)
	for msg := range failures {
		t.Error(msg)
	}
}

func TestModesKeepSeparateHistories(t *testing.T) {
	snapshots := history.NewMemoryStore()
	tokens := auth.NewTokenStore()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user_7",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	tokens.SetToken(signed)

	counselor := NewService(Options{Snapshots: snapshots, Tokens: tokens, Mode: ModeCounselor})
	t.Cleanup(counselor.Close)
	require.NoError(t, counselor.Open(context.Background()))
	_, err = counselor.Send(context.Background(), "상담 모드 메시지")
	require.NoError(t, err)

	bot := NewService(Options{Snapshots: snapshots, Tokens: tokens, Mode: ModeBot})
	t.Cleanup(bot.Close)
	require.NoError(t, bot.Open(context.Background()))
	for _, m := range bot.History() {
		require.NotEqual(t, "상담 모드 메시지", m.Text, "counselor history must not leak into bot mode")
	}
}

func TestClearHistoryReseeds(t *testing.T) {
	svc := newTestService(t, "", ModeBot, history.NewMemoryStore())
	require.NoError(t, svc.Open(context.Background()))
	_, err := svc.Send(context.Background(), "")
	require.Error(t, err)

	require.NoError(t, svc.ClearHistory(context.Background()))
	hist := svc.History()
	require.Len(t, hist, 1)
	require.Equal(t, "welcome", hist[0].ID)
}
