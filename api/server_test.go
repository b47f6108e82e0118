package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"procstat-agent/apperr"
	"procstat-agent/collector"
	"procstat-agent/collector/collectortest"
	"procstat-agent/executor"
	"procstat-agent/logger"
	"procstat-agent/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// far above any pid_max, so kill requests never reach a real process
const fakePidBase = 1 << 30

func fakeSource() *collectortest.Source {
	return &collectortest.Source{
		Total:         8 << 30,
		Available:     3 << 30,
		CPUCount:      2,
		UptimeSeconds: 120,
		Usage:         12.5,
		Order:         []int32{fakePidBase + 1, fakePidBase + 2, fakePidBase + 3},
		Procs: map[int32]models.ProcessInfo{
			fakePidBase + 1: {PID: fakePidBase + 1, PPID: 1, Command: "init", Arguments: "/sbin/init"},
			fakePidBase + 3: {PID: fakePidBase + 3, PPID: fakePidBase + 1, Command: "sshd", Arguments: "/usr/sbin/sshd -D"},
		},
		Cores: []collector.CoreStat{
			{Brand: "Xeon", Vendor: "GenuineIntel", Mhz: 2100, Usage: 5},
			{Brand: "Xeon", Vendor: "GenuineIntel", Mhz: 3300, Usage: 55},
		},
	}
}

func newTestServer(src collector.Source, timeout time.Duration, opts ...collector.Option) *Server {
	col := collector.New(src, logger.Nop(), opts...)
	return NewServer(col, executor.New(logger.Nop()), logger.Nop(), timeout)
}

func do(h fasthttp.RequestHandler, method, uri string, body []byte) *fasthttp.Response {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.SetBody(body)
	}

	var ctx fasthttp.RequestCtx
	ctx.Init(req, nil, nil)
	h(&ctx)

	resp := &fasthttp.Response{}
	ctx.Response.CopyTo(resp)
	return resp
}

func decode(t *testing.T, resp *fasthttp.Response, v interface{}) {
	t.Helper()
	assert.Equal(t, "application/json", string(resp.Header.ContentType()))
	require.NoError(t, json.Unmarshal(resp.Body(), v), string(resp.Body()))
}

func TestStatus(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	resp := do(h, "GET", "/status", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())

	var status models.SystemStatus
	decode(t, resp, &status)
	assert.Equal(t, uint64(2), status.CPUs)
	assert.Equal(t, uint64(8<<30), status.Memory.Total)
	assert.Equal(t, uint64(5<<30), status.Memory.Usage)
	require.NotNil(t, status.Uptime)
	assert.Equal(t, uint64(120), *status.Uptime)
}

func TestStatusUnreportedFieldsAreNull(t *testing.T) {
	src := fakeSource()
	src.UptimeErr = errors.New("nope")
	src.UsageErr = errors.New("nope")
	h := newTestServer(src, time.Second).Handler()

	resp := do(h, "GET", "/status", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())

	var raw map[string]interface{}
	decode(t, resp, &raw)
	assert.Contains(t, raw, "uptime")
	assert.Nil(t, raw["uptime"])
	assert.Nil(t, raw["usage"])
}

func TestStatusUnavailable(t *testing.T) {
	src := fakeSource()
	src.MemoryErr = apperr.New("read memory", apperr.ErrUnavailable, errors.New("meminfo missing"))
	h := newTestServer(src, time.Second).Handler()

	resp := do(h, "GET", "/status", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, resp.StatusCode())

	var body models.ErrorResponse
	decode(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, "UNAVAILABLE", body.Code)
	assert.Contains(t, body.Error, "meminfo missing")
}

func TestProcesses(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	resp := do(h, "GET", "/processes", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "1", string(resp.Header.Peek("X-Skipped-Processes")))

	var list []models.ProcessInfo
	decode(t, resp, &list)
	require.Len(t, list, 2)
	assert.Equal(t, int32(fakePidBase+1), list[0].PID)
	assert.Equal(t, "sshd", list[1].Command)
	assert.Equal(t, "/usr/sbin/sshd -D", list[1].Arguments)
}

func TestProcessesEmptyIsArray(t *testing.T) {
	h := newTestServer(&collectortest.Source{}, time.Second).Handler()

	resp := do(h, "GET", "/processes", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "[]", string(resp.Body()))
}

func TestProcess(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	resp := do(h, "GET", fmt.Sprintf("/processes/%d", fakePidBase+3), nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var info models.ProcessInfo
	decode(t, resp, &info)
	assert.Equal(t, int32(fakePidBase+3), info.PID)

	tests := []struct {
		uri    string
		status int
		code   string
	}{
		{fmt.Sprintf("/processes/%d", fakePidBase+2), fasthttp.StatusNotFound, "NOT_FOUND"},
		{"/processes/abc", fasthttp.StatusBadRequest, "INVALID"},
		{"/processes/99999999999", fasthttp.StatusBadRequest, "INVALID"},
		{"/processes/0", fasthttp.StatusBadRequest, "INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			resp := do(h, "GET", tt.uri, nil)
			assert.Equal(t, tt.status, resp.StatusCode())
			var body models.ErrorResponse
			decode(t, resp, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestCPUs(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	resp := do(h, "GET", "/cpus", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var all models.CPUInfo
	decode(t, resp, &all)
	assert.Equal(t, uint64(2700), all.Speed)
	assert.InDelta(t, 30.0, all.Usage, 1e-9)

	resp = do(h, "GET", "/cpus/1", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	var core models.CPUInfo
	decode(t, resp, &core)
	assert.Equal(t, models.CPUInfo{Model: "Xeon", Manufacturer: "GenuineIntel", Speed: 3300, Usage: 55}, core)

	assert.Equal(t, fasthttp.StatusNotFound, do(h, "GET", "/cpus/2", nil).StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, do(h, "GET", "/cpus/-1", nil).StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, do(h, "GET", "/cpus/first", nil).StatusCode())
}

func TestCPUTimeout(t *testing.T) {
	src := fakeSource()
	src.Hang = make(chan struct{})
	defer close(src.Hang)
	h := newTestServer(src, 50*time.Millisecond).Handler()

	resp := do(h, "GET", "/cpus/0", nil)
	assert.Equal(t, fasthttp.StatusGatewayTimeout, resp.StatusCode())
	var body models.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "TIMEOUT", body.Code)
}

func TestKillMissingProcess(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	resp := do(h, "GET", fmt.Sprintf("/processes/kill/%d", fakePidBase+1), nil)
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())

	var res models.ActionResult
	decode(t, resp, &res)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, uint64(syscall.ESRCH), res.Error)
	assert.Equal(t, int32(fakePidBase+1), res.PID)

	resp = do(h, "GET", "/processes/kill/abc", nil)
	assert.Equal(t, fasthttp.StatusBadRequest, resp.StatusCode())
	decode(t, resp, &res)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.NotZero(t, res.Error)
}

func TestStart(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	resp := do(h, "POST", "/processes/start", []byte(`{"command": `))
	assert.Equal(t, fasthttp.StatusBadRequest, resp.StatusCode())
	var res models.StartResult
	decode(t, resp, &res)
	assert.Equal(t, models.StatusFailed, res.Status)

	resp = do(h, "POST", "/processes/start", []byte(`{"command": "", "arguments": []}`))
	assert.Equal(t, fasthttp.StatusBadRequest, resp.StatusCode())

	resp = do(h, "POST", "/processes/start", []byte(`{"command": "/procstat/missing", "arguments": [], "environment": {}}`))
	assert.Equal(t, fasthttp.StatusInternalServerError, resp.StatusCode())
	decode(t, resp, &res)
	assert.Equal(t, uint64(syscall.ENOENT), res.Error)
	assert.Contains(t, res.Message, "/procstat/missing")

	if runtime.GOOS == "windows" {
		return
	}
	if _, err := exec.LookPath("sh"); err != nil {
		return
	}
	resp = do(h, "POST", "/processes/start", []byte(`{"command": "sh", "arguments": ["-c", "exit 0"], "environment": {"A": "1"}}`))
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode(), string(resp.Body()))
	res = models.StartResult{}
	decode(t, resp, &res)
	assert.Equal(t, models.StatusOK, res.Status)
	assert.Zero(t, res.Error)
	assert.Greater(t, res.PID, int32(0))
	assert.Empty(t, res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestContainers(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()
	assert.Equal(t, fasthttp.StatusServiceUnavailable, do(h, "GET", "/containers", nil).StatusCode())

	list := []models.ContainerInfo{{ID: "4f2c1a9b0d3e", Name: "redis", Image: "redis:7", State: "running"}}
	h = newTestServer(fakeSource(), time.Second, collector.WithContainers(&collectortest.Containers{List: list})).Handler()
	resp := do(h, "GET", "/containers", nil)
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())

	var got []models.ContainerInfo
	decode(t, resp, &got)
	assert.Equal(t, list, got)
}

func TestRouting(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	tests := []struct {
		method, uri string
		status      int
	}{
		{"GET", "/", fasthttp.StatusNotFound},
		{"GET", "/nope", fasthttp.StatusNotFound},
		{"GET", "/processes/kill", fasthttp.StatusBadRequest},
		{"GET", "/processes/1/extra/parts", fasthttp.StatusNotFound},
		{"POST", "/status", fasthttp.StatusMethodNotAllowed},
		{"DELETE", "/processes", fasthttp.StatusMethodNotAllowed},
		{"GET", "/processes/start", fasthttp.StatusMethodNotAllowed},
		{"PUT", "/cpus/0", fasthttp.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.uri, func(t *testing.T) {
			assert.Equal(t, tt.status, do(h, tt.method, tt.uri, nil).StatusCode())
		})
	}

	resp := do(h, "POST", "/status", nil)
	assert.Equal(t, "GET", string(resp.Header.Peek("Allow")))
}

func TestRecoverPanics(t *testing.T) {
	s := newTestServer(fakeSource(), time.Second)
	h := s.recoverPanics(func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("partial")
		panic("boom")
	})

	resp := do(h, "GET", "/status", nil)
	assert.Equal(t, fasthttp.StatusInternalServerError, resp.StatusCode())
	var body models.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "INTERNAL", body.Code)
}

func TestConcurrentListAndKill(t *testing.T) {
	h := newTestServer(fakeSource(), time.Second).Handler()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp := do(h, "GET", "/processes", nil)
			var list []models.ProcessInfo
			if err := json.Unmarshal(resp.Body(), &list); err != nil {
				errs <- err
				return
			}
			if resp.StatusCode() != fasthttp.StatusOK || len(list) != 2 {
				errs <- fmt.Errorf("list: status %d, %d entries", resp.StatusCode(), len(list))
			}
		}()
		go func(pid int32) {
			defer wg.Done()
			resp := do(h, "GET", fmt.Sprintf("/processes/kill/%d", pid), nil)
			var res models.ActionResult
			if err := json.Unmarshal(resp.Body(), &res); err != nil {
				errs <- err
				return
			}
			if res.PID != pid || res.Status != models.StatusFailed {
				errs <- fmt.Errorf("kill %d: got %+v", pid, res)
			}
		}(int32(fakePidBase + 1 + i%3))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(fakeSource(), time.Second)
	ln := fasthttputil.NewInmemoryListener()

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	client := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://procstat/cpus/0")
	req.SetConnectionClose()
	require.NoError(t, client.Do(req, resp))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "procstat-agent", string(resp.Header.Server()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
