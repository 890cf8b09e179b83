package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"iotchart/internal/chart"
	"iotchart/internal/command"
	"iotchart/internal/datalog"
)

// Wed 2026-03-04 13:45:10 UTC
const testNow = 1772631910

func newTestServer(t *testing.T, columns string, at int64) (*server, *clock.Mock) {
	t.Helper()
	cfg, err := loadConfig(env(map[string]string{"CHART_COLUMNS": columns, "CHART_NAME": "boiler"}))
	test.That(t, err, test.ShouldBeNil)
	c := clock.NewMock()
	c.Set(time.Unix(at, 0))
	store := datalog.NewMemoryStore(cfg.ChartName, cfg.Columns, 100, c)
	s, err := newServer(cfg, store, c)
	test.That(t, err, test.ShouldBeNil)
	return s, c
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestRecordAndChartJSON(t *testing.T) {
	s, c := newTestServer(t, "pump:uint32:1,temp:temperature:0.5", testNow)
	h := s.routes()

	rec := do(h, http.MethodPost, "/record", `{"pump":1,"temp":21.5}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusCreated)
	var added struct {
		Time int64 `json:"time"`
	}
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &added), test.ShouldBeNil)
	test.That(t, added.Time, test.ShouldEqual, int64(testNow))

	c.Add(time.Minute)
	rec = do(h, http.MethodPost, "/record", `{"pump":0}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusCreated)

	rec = do(h, http.MethodGet, "/chart?format=json&hours=1", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Expires"), test.ShouldEqual, "Wed, 04 Mar 2026 13:47:00 GMT")
	var ds chart.DataSet
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &ds), test.ShouldBeNil)
	test.That(t, ds.Series["pump"], test.ShouldResemble, []chart.Sample{
		{Time: testNow, Value: 1},
		{Time: testNow + 60, Value: 0},
	})
	test.That(t, ds.Series["temp"], test.ShouldResemble, []chart.Sample{{Time: testNow, Value: 21.5}})

	// the window no longer reaches back to the first record
	c.Add(time.Hour)
	rec = do(h, http.MethodGet, "/chart?format=json&hours=1", "")
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &ds), test.ShouldBeNil)
	test.That(t, ds.Series["pump"], test.ShouldResemble, []chart.Sample{{Time: testNow + 60, Value: 0}})
	test.That(t, ds.Series["temp"], test.ShouldBeEmpty)
}

func TestChartFormats(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	h := s.routes()
	test.That(t, do(h, http.MethodPost, "/record", `{"pump":1}`).Code, test.ShouldEqual, http.StatusCreated)

	rec := do(h, http.MethodGet, "/chart?format=png&width=400&height=150", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "image/png")
	img, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Width, test.ShouldEqual, 400)
	test.That(t, img.Height, test.ShouldEqual, 150)

	rec = do(h, http.MethodGet, "/chart?format=svg&hours=6", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "image/svg+xml")
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "<svg")

	rec = do(h, http.MethodGet, "/chart?format=csv", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "pump,2026-03-04T13:45:10Z,1.000000")

	rec = do(h, http.MethodGet, "/chart?format=xlsx", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Disposition"), test.ShouldContainSubstring, "boiler.xlsx")
	test.That(t, rec.Body.Len(), test.ShouldBeGreaterThan, 0)

	rec = do(h, http.MethodGet, "/chart?hours=148", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, `<option value="148" selected>Week</option>`)
	test.That(t, rec.Body.String(), test.ShouldContainSubstring, "/chart?format=png&hours=148")
}

func TestChartRejectsBadParams(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	h := s.routes()
	for _, target := range []string{
		"/chart?hours=0",
		"/chart?hours=-2",
		"/chart?hours=week",
		"/chart?width=10",
		"/chart?height=abc",
		"/chart?format=gif",
	} {
		t.Run(target, func(t *testing.T) {
			test.That(t, do(h, http.MethodGet, target, "").Code, test.ShouldEqual, http.StatusBadRequest)
		})
	}
}

func TestTemplateParam(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	for _, v := range []string{"../etc", "missing"} {
		req := httptest.NewRequest(http.MethodGet, "/chart?template="+v, nil)
		params, err := s.parseChartParams(req)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, params.Template, test.ShouldEqual, defaultHtmlTemplate)
	}
	test.That(t, isAlphaNumeric("default2"), test.ShouldBeTrue)
	test.That(t, isAlphaNumeric("a-b"), test.ShouldBeFalse)
}

func TestRecordErrors(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	h := s.routes()
	test.That(t, do(h, http.MethodGet, "/record", "").Code, test.ShouldEqual, http.StatusMethodNotAllowed)
	test.That(t, do(h, http.MethodPost, "/record", `{"fan":1}`).Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, do(h, http.MethodPost, "/record", `{"pump":2.5}`).Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, do(h, http.MethodPost, "/record", `{}`).Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, do(h, http.MethodPost, "/record", `[1]`).Code, test.ShouldEqual, http.StatusBadRequest)

	unset, _ := newTestServer(t, "pump:uint32:1", 1000000)
	test.That(t, do(unset.routes(), http.MethodPost, "/record", `{"pump":1}`).Code, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestLiveChartFollowsRecords(t *testing.T) {
	s, c := newTestServer(t, "pump:uint32:1", testNow)
	h := s.routes()

	test.That(t, s.live.Window(), test.ShouldResemble, chart.Window{Start: testNow - 3600, End: testNow})

	c.Add(90 * time.Second)
	test.That(t, do(h, http.MethodPost, "/record", `{"pump":1}`).Code, test.ShouldEqual, http.StatusCreated)
	opts := s.live.Options()
	test.That(t, opts.AxisX.High, test.ShouldEqual, int64(testNow+90))
	test.That(t, opts.AxisX.High-opts.AxisX.Low, test.ShouldEqual, int64(3600))

	rec := do(h, http.MethodGet, "/live?hours=24", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "image/png")
	img, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Width, test.ShouldEqual, 800)
	test.That(t, s.selector.Hours(), test.ShouldEqual, 24.0)
	test.That(t, s.live.Window(), test.ShouldResemble, chart.Window{Start: testNow + 90 - 86400, End: testNow + 90})

	test.That(t, do(h, http.MethodGet, "/live?hours=-1", "").Code, test.ShouldEqual, http.StatusBadRequest)
}

func TestChartOptionsByColumnType(t *testing.T) {
	binary := chartOptions([]datalog.Column{{Name: "pump", Type: datalog.TypeUint32, TickInterval: 1}})
	test.That(t, binary, test.ShouldResemble, chart.DefaultOptions())

	analog := chartOptions([]datalog.Column{
		{Name: "pump", Type: datalog.TypeUint32, TickInterval: 1},
		{Name: "temp", Type: datalog.TypeTemperature, TickInterval: 0.5},
	})
	test.That(t, analog.AxisY.Scale, test.ShouldEqual, chart.ScaleAuto)
	test.That(t, analog.Interpolation, test.ShouldEqual, chart.InterpolationLine)
}

func TestWebsocketCommands(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	_, err := s.store.Add(context.Background(), map[string]float64{"pump": 1})
	test.That(t, err, test.ShouldBeNil)

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	replies := make(chan command.Message, 8)
	client, err := command.Dial(ctx, srv.URL+"/ws", func(msg command.Message) { replies <- msg })
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()
	go client.Run(ctx)

	next := func() command.Message {
		select {
		case msg := <-replies:
			return msg
		case <-ctx.Done():
			t.Fatal("no reply")
		}
		return command.Message{}
	}

	test.That(t, client.SendCommand(ctx, command.GetHeader, nil), test.ShouldBeNil)
	msg := next()
	test.That(t, msg.Cmd, test.ShouldEqual, command.ChartHeader)
	var header headerReply
	test.That(t, msg.Decode(&header), test.ShouldBeNil)
	test.That(t, header.Header.Name, test.ShouldEqual, "boiler")
	test.That(t, header.Header.NumCols, test.ShouldEqual, 1)

	test.That(t, client.SendCommand(ctx, command.GetChartData, map[string]any{"since": testNow - 3600}), test.ShouldBeNil)
	msg = next()
	test.That(t, msg.Cmd, test.ShouldEqual, command.ChartData)
	var data chartDataReply
	test.That(t, msg.Decode(&data), test.ShouldBeNil)
	test.That(t, data.Chart.Series["pump"], test.ShouldResemble, []chart.Sample{{Time: testNow, Value: 1}})

	test.That(t, client.SendCommand(ctx, command.GetChartData, map[string]any{"since": testNow + 1}), test.ShouldBeNil)
	msg = next()
	test.That(t, msg.Decode(&data), test.ShouldBeNil)
	test.That(t, data.Chart.Series["pump"], test.ShouldBeEmpty)

	test.That(t, client.SendCommand(ctx, command.SetChartHours, map[string]any{"hours": 6}), test.ShouldBeNil)
	msg = next()
	test.That(t, msg.Cmd, test.ShouldEqual, command.ChartHours)
	test.That(t, s.selector.Hours(), test.ShouldEqual, 6.0)
	test.That(t, s.live.Window().Width(), test.ShouldEqual, int64(6*3600))

	test.That(t, client.SendCommand(ctx, command.SetChartHours, map[string]any{"hours": 0}), test.ShouldBeNil)
	test.That(t, next().Cmd, test.ShouldEqual, command.Error)
	test.That(t, s.selector.Hours(), test.ShouldEqual, 6.0)

	test.That(t, client.SendCommand(ctx, "reboot", nil), test.ShouldBeNil)
	msg = next()
	test.That(t, msg.Cmd, test.ShouldEqual, command.Error)
	var failure command.ErrorReply
	test.That(t, msg.Decode(&failure), test.ShouldBeNil)
	test.That(t, failure.Error, test.ShouldContainSubstring, "reboot")
}

func TestGetChartDataRoundsSince(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	ctx := context.Background()
	_, err := s.store.Add(ctx, map[string]float64{"pump": 1})
	test.That(t, err, test.ShouldBeNil)

	for since, want := range map[string]int{
		"1772631909.5": 1,
		"1772631910.4": 1,
		"1772631910.6": 0,
	} {
		reply := s.router.Dispatch(ctx, []byte(`{"cmd":"get_chart_data","since":`+since+`}`))
		data, ok := reply.(chartDataReply)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, data.Chart.Series["pump"], test.ShouldHaveLength, want)
	}

	// no since means everything
	data, ok := s.router.Dispatch(ctx, []byte(`{"cmd":"get_chart_data"}`)).(chartDataReply)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, data.Chart.Series["pump"], test.ShouldHaveLength, 1)

	_, ok = s.router.Dispatch(ctx, []byte(`{"cmd":"get_chart_data","since":1e300}`)).(command.ErrorReply)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestLiveChartDrawsLatestRecord(t *testing.T) {
	s, _ := newTestServer(t, "pump:uint32:1", testNow)
	eng := &countingEngine{}
	s.live = chart.NewBinder(s.calc, eng, s.selector, chartOptions(s.cfg.Columns))
	_, err := s.live.Initialize(liveContainer, nil)
	test.That(t, err, test.ShouldBeNil)
	h := s.routes()

	const records = 20
	var wg sync.WaitGroup
	codes := make(chan int, records)
	for i := 0; i < records; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			codes <- do(h, http.MethodPost, "/record", fmt.Sprintf(`{"pump":%d}`, v%2)).Code
		}(i)
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		test.That(t, code, test.ShouldEqual, http.StatusCreated)
	}

	// the last redraw saw every record
	test.That(t, eng.updates, test.ShouldEqual, records)
	test.That(t, eng.last, test.ShouldHaveLength, 1)
	test.That(t, eng.last[0], test.ShouldHaveLength, records)
}
