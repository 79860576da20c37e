package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	appErr "codejudge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJudge struct {
	mu       sync.Mutex
	lastIn   service.SubmitInput
	submitFn func(in service.SubmitInput) (service.SubmitOutput, error)
	polls    []model.PollResponse
	pollIdx  int
	pollErr  error
}

func (f *fakeJudge) Submit(ctx context.Context, in service.SubmitInput) (service.SubmitOutput, error) {
	f.mu.Lock()
	f.lastIn = in
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(in)
	}
	return service.SubmitOutput{SubmissionID: "sub-1", Position: 2}, nil
}

// Poll walks through polls, repeating the last one.
func (f *fakeJudge) Poll(ctx context.Context, id string) (model.PollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return model.PollResponse{}, f.pollErr
	}
	resp := f.polls[f.pollIdx]
	if f.pollIdx < len(f.polls)-1 {
		f.pollIdx++
	}
	return resp, nil
}

func (f *fakeJudge) Progress(ctx context.Context) model.Progress {
	return model.Progress{SubmissionID: "sub-1", TotalTests: 5, CurrentTest: 2}
}

func (f *fakeJudge) Queue(ctx context.Context) model.QueueView {
	return model.QueueView{Current: "sub-1", Pending: []string{"sub-2"}}
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

func newRouter(svc JudgeService) *gin.Engine {
	r := gin.New()
	r.Use(commonmw.TraceContextMiddleware())
	NewJudgeController(svc, 10*time.Millisecond).RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, r http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return w, env
}

func TestSubmitRoute(t *testing.T) {
	t.Parallel()
	svc := &fakeJudge{}
	r := newRouter(svc)

	w, env := doRequest(t, r, http.MethodPost, "/api/v1/judge/problems/7/submissions",
		`{"language":"java","code":"public class Main {}"}`, map[string]string{commonmw.UserIDHeader: "alice"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var out service.SubmitOutput
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if out.SubmissionID != "sub-1" || out.Position != 2 {
		t.Fatalf("unexpected output: %+v", out)
	}
	if svc.lastIn.ProblemID != 7 || svc.lastIn.UserID != "alice" || svc.lastIn.LanguageID != "java" {
		t.Fatalf("unexpected input: %+v", svc.lastIn)
	}
}

func TestSubmitRouteErrors(t *testing.T) {
	t.Parallel()
	svc := &fakeJudge{submitFn: func(in service.SubmitInput) (service.SubmitOutput, error) {
		return service.SubmitOutput{}, appErr.New(appErr.ProblemNotFound)
	}}
	r := newRouter(svc)

	cases := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{name: "bad problem id", target: "/api/v1/judge/problems/abc/submissions", body: `{"code":"x"}`, status: http.StatusBadRequest},
		{name: "missing code", target: "/api/v1/judge/problems/7/submissions", body: `{"language":"java"}`, status: http.StatusBadRequest},
		{name: "service error", target: "/api/v1/judge/problems/7/submissions", body: `{"code":"x"}`, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		w, _ := doRequest(t, r, http.MethodPost, tc.target, tc.body, nil)
		if w.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, w.Code, tc.status)
		}
	}
}

func TestStatusRoutes(t *testing.T) {
	t.Parallel()
	svc := &fakeJudge{polls: []model.PollResponse{{Tests: []string{"AC", "Pending"}}}}
	r := newRouter(svc)

	w, env := doRequest(t, r, http.MethodGet, "/api/v1/judge/submissions/sub-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var poll model.PollResponse
	if err := json.Unmarshal(env.Data, &poll); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if poll.Completed || len(poll.Tests) != 2 || poll.Tests[1] != "Pending" {
		t.Fatalf("unexpected poll: %+v", poll)
	}

	_, env = doRequest(t, r, http.MethodGet, "/api/v1/judge/progress", "", nil)
	var progress model.Progress
	if err := json.Unmarshal(env.Data, &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.TotalTests != 5 || progress.CurrentTest != 2 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	_, env = doRequest(t, r, http.MethodGet, "/api/v1/judge/queue", "", nil)
	var queue model.QueueView
	if err := json.Unmarshal(env.Data, &queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if queue.Current != "sub-1" || len(queue.Pending) != 1 {
		t.Fatalf("unexpected queue: %+v", queue)
	}

	svc.pollErr = appErr.New(appErr.SubmissionNotFound)
	w, env = doRequest(t, r, http.MethodGet, "/api/v1/judge/submissions/missing", "", nil)
	if w.Code != http.StatusNotFound || env.Code != appErr.SubmissionNotFound {
		t.Fatalf("status = %d code = %v", w.Code, env.Code)
	}
}

func TestWatchStreamsUntilCompleted(t *testing.T) {
	t.Parallel()
	svc := &fakeJudge{polls: []model.PollResponse{
		{Tests: []string{"Pending", "Pending"}},
		{Tests: []string{"Pending", "Pending"}},
		{Tests: []string{"AC", "Pending"}},
		{Tests: []string{"AC", "WA"}, Completed: true},
	}}
	srv := httptest.NewServer(newRouter(svc))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/judge/submissions/sub-1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var last model.PollResponse
	frames := 0
	for {
		var resp model.PollResponse
		if err := conn.ReadJSON(&resp); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			t.Fatalf("read: %v", err)
		}
		frames++
		last = resp
	}
	if !last.Completed || strings.Join(last.Tests, ",") != "AC,WA" {
		t.Fatalf("unexpected final frame: %+v", last)
	}
	if frames < 2 {
		t.Fatalf("frames = %d, want several", frames)
	}
}

func TestWatchUnknownSubmission(t *testing.T) {
	t.Parallel()
	svc := &fakeJudge{pollErr: appErr.New(appErr.SubmissionNotFound)}
	w, _ := doRequest(t, newRouter(svc), http.MethodGet, "/api/v1/judge/submissions/nope/watch", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
