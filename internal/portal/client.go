package portal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/metrics"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	connectTimeout = 3 * time.Second
	requestTimeout = 10 * time.Second
	poolSize       = 20
	maxRetries5xx  = 2
)

// Recoverer runs a session recovery and reports whether a fresh session
// was published. Implemented by the recovery coordinator; an interface
// here keeps the wire layer free of the login flow.
type Recoverer interface {
	Recover(ctx context.Context) bool
}

// Client executes enrollment-API calls over a pooled connection to the
// portal host. Every authenticated call goes through the expiry detector;
// on expiry the call is transparently retried once after recovery.
type Client struct {
	base string
	// campus code included in query descriptors
	campus string
	http   *http.Client
	log    *logging.Logger

	mu   sync.RWMutex
	sess Session

	recoverer Recoverer
	onRequest func()
}

// NewClient creates a portal client for the given base URL (up to
// /xsxkapp/sys/xsxkapp, no trailing slash).
func NewClient(base, campus string, log *logging.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		// The portal historically serves a self-signed certificate.
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		campus: campus,
		http: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
			// A 302 is a session-expiry signal, never follow it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

// SetRecoverer attaches the session-recovery coordinator.
func (c *Client) SetRecoverer(r Recoverer) { c.recoverer = r }

// SetRequestHook registers a callback invoked after every enrollment
// HTTP call; the scheduler uses it to drive the heartbeat counter.
func (c *Client) SetRequestHook(fn func()) { c.onRequest = fn }

// SetSession publishes a new session. Token and cookies rotate together
// under the lock.
func (c *Client) SetSession(s Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

// Session returns a stable snapshot of the current session.
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.sess
	snap.Cookies = make(map[string]string, len(c.sess.Cookies))
	for k, v := range c.sess.Cookies {
		snap.Cookies[k] = v
	}
	return snap
}

// timestamp returns the current time in server milliseconds.
func (c *Client) timestamp() string {
	sess := c.Session()
	ms := time.Now().Add(sess.TimeOffset).UnixMilli()
	return strconv.FormatInt(ms, 10)
}

type apiResponse struct {
	Code     FlexString      `json:"code"`
	Msg      string          `json:"msg"`
	DataList json.RawMessage `json:"dataList"`
	Data     json.RawMessage `json:"data"`
}

// rows returns dataList, falling back to data; some deployments answer
// courseResult with one or the other.
func (a *apiResponse) rows() json.RawMessage {
	if len(a.DataList) > 0 && string(a.DataList) != "null" {
		return a.DataList
	}
	return a.Data
}

// do executes one authenticated call and decodes the JSON envelope.
// 5xx responses are retried with a small backoff; a 302 or an expiry
// keyword in the body maps to StatusExpired.
func (c *Client) do(ctx context.Context, method, path string, query, form url.Values) (*apiResponse, Status, error) {
	sess := c.Session()

	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries5xx; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, StatusNetworkError, ctx.Err()
			}
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, StatusNetworkError, fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req, sess, form != nil)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("portal request: %w", err)
			continue
		}

		metrics.RequestsTotal.WithLabelValues(path).Inc()
		if c.onRequest != nil {
			c.onRequest()
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("portal returned %s", resp.Status)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, StatusNetworkError, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode == http.StatusFound {
			return nil, StatusExpired, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, StatusNetworkError, fmt.Errorf("portal returned %s", resp.Status)
		}

		var api apiResponse
		if err := json.Unmarshal(data, &api); err != nil {
			return nil, StatusNetworkError, fmt.Errorf("decode response: %w", err)
		}
		if Expired(resp.StatusCode, api.Code.String(), api.Msg) {
			return &api, StatusExpired, nil
		}
		return &api, StatusOK, nil
	}
	return nil, StatusNetworkError, lastErr
}

func (c *Client) setHeaders(req *http.Request, sess Session, hasForm bool) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("token", sess.Token)
	req.Header.Set("Origin", originOf(c.base))
	req.Header.Set("Referer", c.base+"/*default/grablessons.do?token="+sess.Token)
	if hasForm {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, v := range sess.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
}

// originOf trims the base URL to scheme://host for the Origin header.
func originOf(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	return u.Scheme + "://" + u.Host
}

// querySetting is the JSON-wrapped query descriptor the list endpoints
// expect in the querySetting form field.
func (c *Client) querySetting(typ CourseType, queryContent string) (string, error) {
	sess := c.Session()
	descriptor := map[string]any{
		"data": map[string]string{
			"studentCode":       sess.StudentCode,
			"campus":            c.campus,
			"electiveBatchCode": sess.BatchCode,
			"isMajor":           "1",
			"teachingClassType": typ.Code(),
			"checkConflict":     "2",
			"checkCapacity":     "2",
			"queryContent":      queryContent,
		},
		// Large page to avoid the target row falling off a page boundary.
		"pageSize":   "500",
		"pageNumber": "0",
		"order":      "",
	}
	data, err := json.Marshal(descriptor)
	if err != nil {
		return "", fmt.Errorf("marshal query descriptor: %w", err)
	}
	return string(data), nil
}

// list runs one catalog query and returns the raw sections.
func (c *Client) list(ctx context.Context, typ CourseType, queryContent string, retryOnExpired bool) ([]rawSection, Status, error) {
	setting, err := c.querySetting(typ, queryContent)
	if err != nil {
		return nil, StatusNetworkError, err
	}
	form := url.Values{"querySetting": {setting}}

	api, status, err := c.do(ctx, http.MethodPost, "/elective/"+typ.Endpoint(), nil, form)
	if status == StatusExpired {
		if retryOnExpired && c.recovered(ctx) {
			return c.list(ctx, typ, queryContent, false)
		}
		return nil, StatusExpired, nil
	}
	if err != nil {
		return nil, StatusNetworkError, err
	}

	var items []rawSection
	if rows := api.rows(); len(rows) > 0 && string(rows) != "null" {
		if err := json.Unmarshal(rows, &items); err != nil {
			return nil, StatusNetworkError, fmt.Errorf("decode data list: %w", err)
		}
	}
	return items, StatusOK, nil
}

// Query lists sections for a course type, optionally filtered by a
// free-text search, grouped by course name.
func (c *Client) Query(ctx context.Context, typ CourseType, queryContent string) (map[string][]TeachingClassRecord, Status, error) {
	items, status, err := c.list(ctx, typ, queryContent, true)
	if status != StatusOK {
		return nil, status, err
	}
	return parseDataList(items, typ), StatusOK, nil
}

// FindSection looks up one section by id. The course number is preferred
// as query content for precision, falling back to the course name.
// found=false with StatusOK means the portal omitted the row — callers
// must treat that as "no information", never as availability.
func (c *Client) FindSection(ctx context.Context, target TeachingClassRecord) (TeachingClassRecord, bool, Status, error) {
	queryContent := target.CourseNumber
	if queryContent == "" {
		queryContent = target.CourseName
	}
	items, status, err := c.list(ctx, target.Type, queryContent, true)
	if status != StatusOK {
		return TeachingClassRecord{}, false, status, err
	}
	rec, found := findSection(items, target.TeachingClassID, target.Type)
	return rec, found, StatusOK, nil
}

// Select submits a volunteer request for the section and classifies the
// outcome. Repeated "already selected" responses classify as acquired,
// keeping the call idempotent from the caller's side.
func (c *Client) Select(ctx context.Context, tcID string, typ CourseType) SelectResult {
	return c.selectOnce(ctx, tcID, typ, true)
}

func (c *Client) selectOnce(ctx context.Context, tcID string, typ CourseType, retryOnExpired bool) SelectResult {
	sess := c.Session()
	addParam := map[string]any{
		"data": map[string]string{
			"operationType":     "1",
			"studentCode":       sess.StudentCode,
			"electiveBatchCode": sess.BatchCode,
			"teachingClassId":   tcID,
			"teachingClassType": typ.Code(),
			"isMajor":           "1",
			"campus":            c.campus,
		},
	}
	data, err := json.Marshal(addParam)
	if err != nil {
		return SelectResult{Outcome: SelectError, Msg: err.Error()}
	}
	form := url.Values{"addParam": {string(data)}}

	api, status, err := c.do(ctx, http.MethodPost, "/elective/volunteer.do", nil, form)
	if status == StatusExpired {
		if retryOnExpired && c.recovered(ctx) {
			return c.selectOnce(ctx, tcID, typ, false)
		}
		return SelectResult{Outcome: SelectExpired, Msg: "session expired"}
	}
	if err != nil {
		return SelectResult{Outcome: SelectError, Msg: err.Error()}
	}

	outcome := ClassifySelect(api.Code.String(), api.Msg)
	c.log.Debug("select classified", "tc_id", tcID, "code", api.Code.String(), "outcome", outcome.String())
	return SelectResult{Outcome: outcome, Msg: api.Msg}
}

// Drop deletes a held volunteer entry.
func (c *Client) Drop(ctx context.Context, tcID string) (bool, string, Status) {
	return c.dropOnce(ctx, tcID, true)
}

func (c *Client) dropOnce(ctx context.Context, tcID string, retryOnExpired bool) (bool, string, Status) {
	sess := c.Session()
	deleteParam := map[string]any{
		"data": map[string]string{
			"operationType":     "2",
			"studentCode":       sess.StudentCode,
			"electiveBatchCode": sess.BatchCode,
			"teachingClassId":   tcID,
			"isMajor":           "1",
		},
	}
	data, err := json.Marshal(deleteParam)
	if err != nil {
		return false, err.Error(), StatusNetworkError
	}
	query := url.Values{
		"timestamp":   {c.timestamp()},
		"deleteParam": {string(data)},
	}

	api, status, err := c.do(ctx, http.MethodGet, "/elective/deleteVolunteer.do", query, nil)
	if status == StatusExpired {
		if retryOnExpired && c.recovered(ctx) {
			return c.dropOnce(ctx, tcID, false)
		}
		return false, "session expired", StatusExpired
	}
	if err != nil {
		return false, err.Error(), StatusNetworkError
	}
	if api.Code.String() == "1" {
		return true, api.Msg, StatusOK
	}
	return false, api.Msg, StatusOK
}

// rawSelected is one held section from courseResult.do; yet another
// alias set applies here.
type rawSelected struct {
	TeachingClassID   string `json:"teachingClassID"`
	JXBID             string `json:"JXBID"`
	TCID              string `json:"tcId"`
	CourseName        string `json:"courseName"`
	KCM               string `json:"KCM"`
	KCMC              string `json:"KCMC"`
	ClassTime         string `json:"classTime"`
	SKSJ              string `json:"SKSJ"`
	TeachingPlace     string `json:"teachingPlace"`
	Time              string `json:"time"`
	TeacherName       string `json:"teacherName"`
	SKJS              string `json:"SKJS"`
	TeachingClassType string `json:"teachingClassType"`
	Type              string `json:"type"`
}

// ListSelected fetches the student's currently held sections.
func (c *Client) ListSelected(ctx context.Context) ([]SelectedCourse, Status, error) {
	return c.listSelectedOnce(ctx, true)
}

func (c *Client) listSelectedOnce(ctx context.Context, retryOnExpired bool) ([]SelectedCourse, Status, error) {
	sess := c.Session()
	query := url.Values{
		"timestamp":         {c.timestamp()},
		"studentCode":       {sess.StudentCode},
		"electiveBatchCode": {sess.BatchCode},
	}

	api, status, err := c.do(ctx, http.MethodGet, "/elective/courseResult.do", query, nil)
	if status == StatusExpired {
		if retryOnExpired && c.recovered(ctx) {
			return c.listSelectedOnce(ctx, false)
		}
		return nil, StatusExpired, nil
	}
	if err != nil {
		return nil, StatusNetworkError, err
	}

	var items []rawSelected
	if rows := api.rows(); len(rows) > 0 && string(rows) != "null" {
		if err := json.Unmarshal(rows, &items); err != nil {
			return nil, StatusNetworkError, fmt.Errorf("decode held sections: %w", err)
		}
	}

	held := make([]SelectedCourse, 0, len(items))
	for _, item := range items {
		id := coalesce(item.TeachingClassID, item.JXBID, item.TCID)
		if id == "" {
			continue
		}
		held = append(held, SelectedCourse{
			TeachingClassID: id,
			Name:            coalesce(item.CourseName, item.KCM, item.KCMC),
			Time:            coalesce(item.ClassTime, item.SKSJ, item.TeachingPlace, item.Time),
			Teacher:         coalesce(item.TeacherName, item.SKJS),
			Type:            ParseCourseType(coalesce(item.TeachingClassType, item.Type, string(TypeRecommended))),
		})
	}
	return held, StatusOK, nil
}

// ProbeLogin checks session liveness via the held-sections endpoint
// without triggering recovery; the scheduler decides what to do with an
// expired probe.
func (c *Client) ProbeLogin(ctx context.Context) ProbeResult {
	sess := c.Session()
	query := url.Values{
		"timestamp":         {c.timestamp()},
		"studentCode":       {sess.StudentCode},
		"electiveBatchCode": {sess.BatchCode},
	}
	_, status, err := c.do(ctx, http.MethodGet, "/elective/courseResult.do", query, nil)
	switch {
	case status == StatusExpired:
		return ProbeExpired
	case err != nil:
		return ProbeNetworkError
	default:
		return ProbeOnline
	}
}

// recovered asks the coordinator for a recovery; absent a coordinator
// the expiry is surfaced to the caller.
func (c *Client) recovered(ctx context.Context) bool {
	if c.recoverer == nil {
		return false
	}
	return c.recoverer.Recover(ctx)
}
