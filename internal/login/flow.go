// Package login implements the captcha-gated login flow: cookie fetch,
// vtoken fetch, captcha image download, OCR decode, and the login call,
// with inner retries for captcha misrecognition.
package login

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wyh-tools/Course-Sentinel/internal/logging"
	"github.com/wyh-tools/Course-Sentinel/internal/portal"
)

// ErrCredentialsRejected marks a login failure the flow cannot retry
// past: the portal named the password or account in its error message.
var ErrCredentialsRejected = errors.New("credentials rejected")

// OCR decodes a captcha image to text. The actual engine is an external
// collaborator; the flow only needs this interface.
type OCR interface {
	Classify(ctx context.Context, image []byte) (string, error)
}

const (
	captchaRetries    = 5  // inner loop, misrecognized captchas
	bootstrapAttempts = 10 // outer loop for the initial login
	minImageBytes     = 100
	captchaLength     = 4
)

var credentialKeywords = []string{"密码", "用户名", "账号", "password", "account", "username"}
var captchaKeywords = []string{"验证码", "captcha", "verify code"}

// Flow obtains fresh sessions from the portal. Safe for use by a single
// caller at a time; the recovery coordinator serializes access.
type Flow struct {
	base      string
	ocr       OCR
	creds     portal.Credentials
	batchCode string
	log       *logging.Logger

	transport *http.Transport
	// serverMs - localMs, written by SyncServerTime
	offsetMs atomic.Int64
}

// New creates a login flow for the given portal base URL.
func New(base string, ocr OCR, creds portal.Credentials, batchCode string, log *logging.Logger) *Flow {
	return &Flow{
		base:      strings.TrimRight(base, "/"),
		ocr:       ocr,
		creds:     creds,
		batchCode: batchCode,
		log:       log,
		transport: &http.Transport{
			DialContext:     (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// SetCredentials replaces the stored credentials, e.g. after the user
// corrects a rejected password.
func (f *Flow) SetCredentials(creds portal.Credentials) { f.creds = creds }

// Offset returns the measured server-time offset.
func (f *Flow) Offset() time.Duration {
	return time.Duration(f.offsetMs.Load()) * time.Millisecond
}

// SyncServerTime probes the index page's Date header and records the
// offset from the round-trip midpoint. Failures are silent: timestamps
// fall back to local time.
func (f *Flow) SyncServerTime(ctx context.Context) {
	client := &http.Client{Transport: f.transport, Timeout: 3 * time.Second}

	before := time.Now().UnixMilli()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.base+"/*default/index.do", nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	after := time.Now().UnixMilli()

	serverDate, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return
	}
	mid := (before + after) / 2
	f.offsetMs.Store(serverDate.UnixMilli() - mid)
	f.log.Debug("server time synced", "offset_ms", f.offsetMs.Load())
}

func (f *Flow) timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli()+f.offsetMs.Load(), 10)
}

// Login runs one recovery-grade login: up to 5 captcha retries, failing
// fast on rejected credentials.
func (f *Flow) Login(ctx context.Context) (portal.Session, error) {
	var lastErr error
	for attempt := 0; attempt < captchaRetries; attempt++ {
		if ctx.Err() != nil {
			return portal.Session{}, ctx.Err()
		}
		sess, err := f.attempt(ctx)
		if err == nil {
			return sess, nil
		}
		if errors.Is(err, ErrCredentialsRejected) {
			return portal.Session{}, err
		}
		lastErr = err
		f.log.Debug("login attempt failed", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return portal.Session{}, ctx.Err()
		}
	}
	return portal.Session{}, fmt.Errorf("login failed after %d captcha attempts: %w", captchaRetries, lastErr)
}

// Authenticate is the bootstrap login used at startup: it syncs server
// time first and loops the full flow up to 10 times.
func (f *Flow) Authenticate(ctx context.Context) (portal.Session, error) {
	f.SyncServerTime(ctx)

	var lastErr error
	for attempt := 0; attempt < bootstrapAttempts; attempt++ {
		sess, err := f.attempt(ctx)
		if err == nil {
			return sess, nil
		}
		if errors.Is(err, ErrCredentialsRejected) || ctx.Err() != nil {
			return portal.Session{}, err
		}
		lastErr = err
		f.log.Info("login attempt failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return portal.Session{}, ctx.Err()
		}
	}
	return portal.Session{}, fmt.Errorf("login failed after %d attempts: %w", bootstrapAttempts, lastErr)
}

type vcodeResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

type loginResponse struct {
	Code portal.FlexString `json:"code"`
	Msg  string            `json:"msg"`
	Data struct {
		Token       string `json:"token"`
		Number      string `json:"number"`
		StudentCode string `json:"studentCode"`
		Name        string `json:"name"`
		StudentName string `json:"studentName"`
	} `json:"data"`
}

// attempt runs the full deterministic sequence once with a fresh cookie
// jar, so a half-poisoned session never leaks into the next try.
func (f *Flow) attempt(ctx context.Context) (portal.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return portal.Session{}, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Transport: f.transport, Jar: jar, Timeout: 8 * time.Second}

	// (1) index page sets the JSESSIONID cookie
	if err := f.get(ctx, client, f.base+"/*default/index.do", nil); err != nil {
		return portal.Session{}, fmt.Errorf("fetch index: %w", err)
	}
	baseURL, _ := url.Parse(f.base + "/")
	if !hasCookie(jar.Cookies(baseURL), "JSESSIONID") {
		return portal.Session{}, errors.New("no JSESSIONID cookie")
	}

	// (2) vtoken
	var vcode vcodeResponse
	vcodeURL := f.base + "/student/4/vcode.do?timestamp=" + f.timestamp()
	if err := f.getJSON(ctx, client, vcodeURL, &vcode); err != nil {
		return portal.Session{}, fmt.Errorf("fetch vtoken: %w", err)
	}
	if vcode.Data.Token == "" {
		return portal.Session{}, errors.New("empty vtoken")
	}

	// (3) captcha image
	image, err := f.getBytes(ctx, client, f.base+"/student/vcode/image.do?vtoken="+url.QueryEscape(vcode.Data.Token))
	if err != nil {
		return portal.Session{}, fmt.Errorf("fetch captcha image: %w", err)
	}
	if len(image) < minImageBytes {
		return portal.Session{}, fmt.Errorf("captcha image too small: %d bytes", len(image))
	}

	// (4) decode
	raw, err := f.ocr.Classify(ctx, image)
	if err != nil {
		return portal.Session{}, fmt.Errorf("ocr: %w", err)
	}
	captcha := normalizeCaptcha(raw)
	if len(captcha) < captchaLength {
		return portal.Session{}, fmt.Errorf("unusable captcha text %q", raw)
	}

	// (5) login
	params := url.Values{
		"timestrap":  {f.timestamp()}, // sic, the portal's own spelling
		"loginName":  {f.creds.Username},
		"loginPwd":   {f.creds.Password},
		"verifyCode": {captcha},
		"vtoken":     {vcode.Data.Token},
	}
	var result loginResponse
	if err := f.getJSON(ctx, client, f.base+"/student/check/login.do?"+params.Encode(), &result); err != nil {
		return portal.Session{}, fmt.Errorf("login request: %w", err)
	}

	if result.Code.String() == "1" {
		token := result.Data.Token
		if token == "" {
			return portal.Session{}, errors.New("login succeeded without a token")
		}
		studentCode := coalesce(result.Data.Number, result.Data.StudentCode, f.creds.Username)
		name := coalesce(result.Data.Name, result.Data.StudentName)
		f.log.Info("login succeeded", "student", studentCode, "name", name)
		return portal.Session{
			Token:       token,
			Cookies:     cookieMap(jar.Cookies(baseURL)),
			StudentCode: studentCode,
			BatchCode:   f.batchCode,
			TimeOffset:  f.Offset(),
		}, nil
	}

	lower := strings.ToLower(result.Msg)
	for _, kw := range credentialKeywords {
		if strings.Contains(lower, kw) {
			return portal.Session{}, fmt.Errorf("%w: %s", ErrCredentialsRejected, result.Msg)
		}
	}
	for _, kw := range captchaKeywords {
		if strings.Contains(lower, kw) {
			return portal.Session{}, fmt.Errorf("captcha rejected: %s", result.Msg)
		}
	}
	return portal.Session{}, fmt.Errorf("login rejected: %s", result.Msg)
}

func (f *Flow) get(ctx context.Context, client *http.Client, rawURL string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Referer", f.base+"/*default/index.do")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func (f *Flow) getBytes(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (f *Flow) getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	data, err := f.getBytes(ctx, client, rawURL)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// normalizeCaptcha keeps ASCII alphanumerics and truncates to the
// portal's 4-character code length.
func normalizeCaptcha(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r > 127 {
			continue
		}
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
		if b.Len() == captchaLength {
			break
		}
	}
	return b.String()
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

func cookieMap(cookies []*http.Cookie) map[string]string {
	m := make(map[string]string, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c.Value
	}
	return m
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
