package device

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// UnknownUserAgent is used when the request carries no User-Agent header.
const UnknownUserAgent = "Unknown User Agent"

// maxBodyBytes caps how much of the request body is inspected.
const maxBodyBytes = 64 << 10

// Signals is the identity bundle derived from one request.
type Signals struct {
	PublicIP     string
	UserAgent    string
	ClientIDSent string
	Timestamp    string
}

// FormatTimestamp renders t the way record timestamps are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ExtractSignals derives the signal bundle from r. It never fails: a missing or
// malformed body, or missing headers, fall back to defaults.
//
// The IP is taken from the body's public_ip, then X-Forwarded-For, then the peer
// address. The body is consumed.
func ExtractSignals(r *http.Request, now time.Time) Signals {
	body := readBody(r)

	var bodyIP, bodyID string
	if gjson.ValidBytes(body) {
		if doc := gjson.ParseBytes(body); doc.IsObject() {
			bodyIP = stringField(doc, "public_ip")
			bodyID = stringField(doc, "client_device_id")
		}
	}

	ip := bodyIP
	if ip == "" {
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip == "" {
		ip = peerHost(r.RemoteAddr)
	}

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = UnknownUserAgent
	}

	return Signals{
		PublicIP:     ip,
		UserAgent:    ua,
		ClientIDSent: bodyID,
		Timestamp:    FormatTimestamp(now),
	}
}

func readBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil
	}
	return body
}

// stringField returns doc[key] when it is a JSON string, else "".
func stringField(doc gjson.Result, key string) string {
	v := doc.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
