package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"text/template"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"

	"iotchart/internal/chart"
	"iotchart/internal/command"
	"iotchart/internal/datalog"
	"iotchart/internal/refresh"
	"iotchart/internal/render"
)

const defaultHtmlTemplate = "default"
const liveContainer = "live"
const maxRecordBytes = 1 << 16

type server struct {
	cfg      Config
	store    datalog.Store
	calc     *chart.Calculator
	selector *chart.Selector
	png      *render.PNGEngine
	svg      *render.SVGEngine
	router   *command.Router
	trigger  *refresh.Trigger

	// liveMu makes reading the store and redrawing the live chart one step.
	liveMu sync.Mutex
	live   *chart.Binder
}

// chartDataReply answers get_chart_data.
type chartDataReply struct {
	Cmd   string        `json:"cmd"`
	Chart chart.DataSet `json:"chart"`
}

type headerReply struct {
	Cmd    string         `json:"cmd"`
	Header datalog.Header `json:"header"`
}

type hoursReply struct {
	Cmd   string  `json:"cmd"`
	Hours float64 `json:"hours"`
}

func newServer(cfg Config, store datalog.Store, clk clock.Clock) (*server, error) {
	selector, err := chart.NewSelector(cfg.Hours)
	if err != nil {
		return nil, err
	}
	var face font.Face
	if cfg.FontFile != "" {
		if face, err = render.LoadFontFace(cfg.FontFile, 12); err != nil {
			return nil, err
		}
	}

	s := &server{
		cfg:      cfg,
		store:    store,
		calc:     chart.NewCalculator(clk),
		selector: selector,
		png:      render.NewPNGEngine(cfg.Location, face),
		svg:      render.NewSVGEngine(cfg.Location),
		router:   command.NewRouter(),
	}
	s.live = chart.NewBinder(s.calc, s.png, selector, chartOptions(cfg.Columns).WithSize(800, 0))

	s.router.Observe(s.observeCommand)
	s.router.Handle(command.GetHeader, s.handleGetHeader)
	s.router.Handle(command.GetChartData, s.handleGetChartData)
	s.router.Handle(command.SetChartHours, s.handleSetChartHours)

	// The live chart refreshes through the same command path a remote dashboard uses.
	s.trigger = refresh.NewTrigger(s.calc, &loopback{router: s.router, onReply: s.onLiveReply})

	if _, err := s.live.Initialize(liveContainer, nil); err != nil {
		return nil, fmt.Errorf("live chart: %w", err)
	}
	if err := s.refreshLive(context.Background()); err != nil {
		logrus.Warnf("Initial live chart refresh failed: %v", err)
	}
	return s, nil
}

// chartOptions picks the binary step chart when every column is an on/off
// counter and an auto-scaled line chart otherwise.
func chartOptions(cols []datalog.Column) chart.Options {
	opts := chart.DefaultOptions()
	for _, col := range cols {
		if col.Type != datalog.TypeUint32 || col.TickInterval != 1 {
			opts.AxisY = chart.AxisY{Scale: chart.ScaleAuto}
			opts.Interpolation = chart.InterpolationLine
			opts.Height = 240
			break
		}
	}
	return opts
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/monitoring/metrics", promhttp.Handler())

	mux.HandleFunc("/monitoring/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	mux.Handle("/chart", instrument("chart", http.HandlerFunc(s.handleChart)))
	mux.Handle("/live", instrument("live", http.HandlerFunc(s.handleLive)))
	mux.Handle("/record", instrument("record", http.HandlerFunc(s.handleRecord)))
	mux.Handle("/ws", s.router)
	return mux
}

func instrument(name string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		httpDuration.MustCurryWith(prometheus.Labels{"handler": name}),
		promhttp.InstrumentHandlerCounter(httpRequests, h),
	)
}

type ChartParams struct {
	Hours    float64
	Format   string
	Width    int
	Height   int
	Points   bool
	Template string
}

func (s *server) handleChart(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseChartParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	window, err := s.calc.Compute(params.Hours)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logrus.Infof("Charting window=[%d,%d] hours=%g format=%s", window.Start, window.End, params.Hours, params.Format)

	format := params.Format
	defer func() { chartCounter.WithLabelValues(format).Inc() }()

	if format == "html" {
		logrus.Info("Rendering HTML")
		if err := s.renderHtml(w, params); err != nil {
			logrus.Warnf("Failed to render HTML: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	ds, err := s.store.Since(r.Context(), window.Start)
	if err != nil {
		logrus.Warnf("Failed to query datapoints: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	addExpiryHeader(w, time.Unix(s.calc.Now(), 0))

	opts := chartOptions(s.cfg.Columns).WithWindow(window).WithSize(params.Width, params.Height)
	opts.ShowPoints = opts.ShowPoints || params.Points

	switch format {
	case "png":
		logrus.Info("Generating PNG image")
		s.renderImage(w, s.png, ds, opts)
	case "svg":
		logrus.Info("Generating SVG image")
		s.renderImage(w, s.svg, ds, opts)
	case "csv":
		logrus.Info("Generating CSV data")
		w.Header().Set("Content-Type", "text/plain")
		if err := render.WriteCSV(w, ds, s.store.Order()); err != nil {
			logrus.Warnf("Failed to write CSV: %v", err)
		}
	case "xlsx":
		logrus.Info("Generating XLSX workbook")
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.cfg.ChartName+".xlsx"))
		if err := render.WriteXLSX(w, ds, s.store.Order(), s.cfg.Location); err != nil {
			logrus.Warnf("Failed to write XLSX: %v", err)
		}
	case "json":
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ds); err != nil {
			logrus.Warnf("Failed to write JSON: %v", err)
		}
	default:
		format = "invalid"
		http.Error(w, fmt.Errorf("invalid 'format' specified").Error(), http.StatusBadRequest)
	}
}

func (s *server) parseChartParams(r *http.Request) (ChartParams, error) {
	q := r.URL.Query()

	hours := s.selector.Hours()
	if hStr := q.Get("hours"); hStr != "" {
		h, err := chart.ParseHours(hStr)
		if err != nil {
			return ChartParams{}, fmt.Errorf("invalid 'hours' query parameter: %w", err)
		}
		hours = h
	}

	format := q.Get("format")
	if format == "" {
		format = "html"
	}

	var width, height int
	if wStr := q.Get("width"); wStr != "" {
		wVal, err := strconv.Atoi(wStr)
		if err != nil || wVal < 200 || wVal > 2000 {
			return ChartParams{}, fmt.Errorf("invalid 'width' query parameter")
		}
		logrus.Tracef("Overriding width to: %d", wVal)
		width = wVal
	}
	if hStr := q.Get("height"); hStr != "" {
		hVal, err := strconv.Atoi(hStr)
		if err != nil || hVal < 100 || hVal > 1200 {
			return ChartParams{}, fmt.Errorf("invalid 'height' query parameter")
		}
		logrus.Tracef("Overriding height to: %d", hVal)
		height = hVal
	}
	logrus.Debugf("Using image size: width=%d, height=%d", width, height)

	htmlTemplate := defaultHtmlTemplate
	if templateParam := q.Get("template"); templateParam != "" {
		if isAlphaNumeric(templateParam) {
			templateFile := fmt.Sprintf("template-%s.html", templateParam)
			if _, err := os.Stat(templateFile); err == nil {
				htmlTemplate = templateParam
			} else {
				logrus.Warnf("Template file not found: %s", templateFile)
			}
		} else {
			logrus.Warnf("Invalid template parameter (non-alphanumeric): %s", templateParam)
		}
	}

	return ChartParams{
		Hours:    hours,
		Format:   format,
		Width:    width,
		Height:   height,
		Points:   q.Get("points") == "1",
		Template: htmlTemplate,
	}, nil
}

func isAlphaNumeric(templateParam string) bool {
	valid := true
	for _, char := range templateParam {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9')) {
			valid = false
			break
		}
	}
	return valid
}

// addExpiryHeader lets clients cache a chart until the next whole minute.
func addExpiryHeader(w http.ResponseWriter, now time.Time) {
	next := now.UTC().Truncate(time.Minute).Add(time.Minute)
	w.Header().Set("Expires", next.Format(http.TimeFormat))
}

type presetOption struct {
	Hours    string
	Label    string
	Selected bool
}

func (s *server) renderHtml(w http.ResponseWriter, params ChartParams) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	templateFile := fmt.Sprintf("template-%s.html", params.Template)
	tmpl, err := template.ParseFiles(templateFile)
	if err != nil {
		return fmt.Errorf("template error: %w", err)
	}

	presets := make([]presetOption, 0, len(chart.Presets))
	for _, p := range chart.Presets {
		presets = append(presets, presetOption{
			Hours:    strconv.FormatFloat(p.Hours, 'f', -1, 64),
			Label:    html.EscapeString(p.Label),
			Selected: p.Hours == params.Hours,
		})
	}
	width := params.Width
	if width == 0 {
		width = 800
	}
	height := params.Height
	if height == 0 {
		height = chartOptions(s.cfg.Columns).Height
	}

	data := struct {
		Name    string
		Hours   string
		Width   int
		Height  int
		Presets []presetOption
	}{
		Name:    html.EscapeString(s.cfg.ChartName),
		Hours:   strconv.FormatFloat(params.Hours, 'f', -1, 64),
		Width:   width,
		Height:  height,
		Presets: presets,
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}
	return nil
}

func (s *server) renderImage(w http.ResponseWriter, engine chart.Engine, ds chart.DataSet, opts chart.Options) {
	h, err := engine.Construct(s.cfg.ChartName, ds.SeriesSet(s.store.Order()), opts)
	if err != nil {
		logrus.Warnf("Failed to render chart: %v", err)
		http.Error(w, "Failed to render image", http.StatusInternalServerError)
		return
	}
	writeFrame(w, h)
}

func writeFrame(w http.ResponseWriter, h chart.Handle) {
	w.Header().Set("Content-Type", h.ContentType())
	if err := h.Encode(w); err != nil {
		logrus.Warnf("Failed to encode %s: %v", h.ContentType(), err)
		http.Error(w, "Failed to render image", http.StatusInternalServerError)
	}
}

func (s *server) handleLive(w http.ResponseWriter, r *http.Request) {
	if hStr := r.URL.Query().Get("hours"); hStr != "" {
		if err := s.setHours(r.Context(), hStr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeFrame(w, s.live.Handle())
}

func (s *server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var values map[string]float64
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRecordBytes)).Decode(&values); err != nil {
		http.Error(w, fmt.Sprintf("invalid record: %v", err), http.StatusBadRequest)
		return
	}
	if len(values) == 0 {
		http.Error(w, "empty record", http.StatusBadRequest)
		return
	}

	at, err := s.store.Add(r.Context(), values)
	switch {
	case errors.Is(err, datalog.ErrUnknownColumn), errors.Is(err, datalog.ErrInvalidValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, datalog.ErrClockNotSet):
		logrus.Warnf("Rejected record: %v", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		logrus.Warnf("Failed to add record: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	recordCounter.Inc()
	logrus.Debugf("Added record at=%d values=%v", at, values)

	if err := s.refreshLive(r.Context()); err != nil {
		logrus.Warnf("Live chart refresh failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int64{"time": at})
}

func (s *server) handleGetHeader(ctx context.Context, msg command.Message) (any, error) {
	return headerReply{Cmd: command.ChartHeader, Header: s.store.Header()}, nil
}

func (s *server) handleGetChartData(ctx context.Context, msg command.Message) (any, error) {
	var req struct {
		Since float64 `json:"since"`
	}
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if math.IsNaN(req.Since) || math.Abs(req.Since) >= math.MaxInt64 {
		return nil, fmt.Errorf("invalid since %g", req.Since)
	}
	ds, err := s.store.Since(ctx, int64(math.Round(req.Since)))
	if err != nil {
		return nil, err
	}
	return chartDataReply{Cmd: command.ChartData, Chart: ds}, nil
}

func (s *server) handleSetChartHours(ctx context.Context, msg command.Message) (any, error) {
	var req struct {
		Hours json.Number `json:"hours"`
	}
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if err := s.setHours(ctx, req.Hours.String()); err != nil {
		return nil, err
	}
	return hoursReply{Cmd: command.ChartHours, Hours: s.selector.Hours()}, nil
}

func (s *server) setHours(ctx context.Context, v string) error {
	if err := s.selector.SetString(v); err != nil {
		return err
	}
	logrus.Infof("Live chart now shows %g hours", s.selector.Hours())
	return s.refreshLive(ctx)
}

func (s *server) observeCommand(cmd string) {
	switch cmd {
	case command.Ping, command.GetHeader, command.GetChartData, command.SetChartHours:
		commandCounter.WithLabelValues(cmd).Inc()
	default:
		commandCounter.WithLabelValues("unknown").Inc()
	}
}

func (s *server) refreshLive(ctx context.Context) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.trigger.RequestRefresh(ctx, s.selector.Hours())
}

func (s *server) onLiveReply(msg command.Message) {
	if err := applyChartData(s.live, s.store.Order(), msg); err != nil {
		logrus.Warnf("Live chart update failed: %v", err)
	}
}

// applyChartData redraws b with a chart_data reply. Other replies are ignored.
func applyChartData(b *chart.Binder, order []string, msg command.Message) error {
	switch msg.Cmd {
	case command.ChartData:
		var reply chartDataReply
		if err := msg.Decode(&reply); err != nil {
			return err
		}
		return b.Update(reply.Chart.SeriesSet(order))
	case command.Error:
		var reply command.ErrorReply
		if err := msg.Decode(&reply); err != nil {
			return err
		}
		return errors.New(reply.Error)
	}
	return nil
}

// loopback dispatches commands straight into a Router and hands the reply back.
type loopback struct {
	router  *command.Router
	onReply func(command.Message)
}

func (l *loopback) SendCommand(ctx context.Context, name string, payload map[string]any) error {
	raw, err := json.Marshal(command.Encode(name, payload))
	if err != nil {
		return err
	}
	reply := l.router.Dispatch(ctx, raw)
	if reply == nil {
		return nil
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	msg, err := command.Parse(out)
	if err != nil {
		return err
	}
	l.onReply(msg)
	return nil
}
