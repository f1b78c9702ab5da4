// Package download implements the Download Handler (C9): bulk
// CSV/JSON export over arbitrary bucketed time ranges, streaming CSV
// in batches from a short-lived store connection. Grounded on the
// original Flask route download_csv (flask_server.go's counterpart,
// flask_server.py) for the streaming-batches shape and the no-cache
// header set, generalized from the hardcoded power-only query to the
// quantity-selectable Series kinds and supplemented with the JSON
// export path and its row-count guard that the distilled spec adds.
package download

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/KarelPeeters/DigitalMeter/internal/series"
	"github.com/KarelPeeters/DigitalMeter/internal/store"
)

// csvBatchSize is the number of rows fetched and flushed per CSV
// streaming batch.
const csvBatchSize = 10240

// maxJSONRows is the row-count guard for JSON exports (spec §4.7).
const maxJSONRows = 1_000_000

// Handler serves GET /download/samples_<name>.<ext>. Each request
// opens its own Store connection (driver/dsn are the same the main
// DataStore uses) and always closes it, per spec Open Question (b).
type Handler struct {
	driver string
	dsn    string
}

// NewHandler builds a download Handler that opens its own per-request
// store connections against driver/dsn.
func NewHandler(driver, dsn string) *Handler {
	return &Handler{driver: driver, dsn: dsn}
}

type parsedRequest struct {
	quantity   series.Kind
	bucketSize *int64
	oldest     *int64
	newest     *int64
	format     string // "csv" or "csv-be"
	ext        string // "csv" or "json"
	tooLarge   bool
}

// htmlError writes a bare HTML error body with no explicit status, so
// the response is served as 200 — matching the source's Flask route,
// which returns these as plain strings (flask_server.py).
func htmlError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<p>%s</p>", html.EscapeString(msg))
}

func setNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// ServeHTTP dispatches to the CSV or JSON export path based on the
// request's file extension.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setNoCacheHeaders(w)

	ext := strings.TrimPrefix(path.Ext(r.URL.Path), ".")
	if ext != "csv" && ext != "json" {
		htmlError(w, fmt.Sprintf("Invalid parameter 'ext: %s'", ext))
		return
	}

	req, errMsg := h.parseRequest(r, ext)
	if errMsg != "" {
		htmlError(w, errMsg)
		return
	}

	st, err := store.Open(h.driver, h.dsn)
	if err != nil {
		http.Error(w, "failed to open store", http.StatusInternalServerError)
		return
	}
	defer st.Close()

	if ext == "json" {
		h.serveJSON(w, st, req)
		return
	}
	h.serveCSV(w, r, st, req)
}

func (h *Handler) parseRequest(r *http.Request, ext string) (parsedRequest, string) {
	q := r.URL.Query()
	seen := map[string]bool{"quantity": true, "bucket_size": true, "oldest": true, "newest": true, "format": true}

	var req parsedRequest
	req.ext = ext
	req.format = "csv"

	quantityName := q.Get("quantity")
	if quantityName == "" {
		return req, "Missing parameter 'quantity'"
	}
	kind, ok := series.ByName(quantityName)
	if !ok {
		return req, "Invalid parameter 'quantity'"
	}
	req.quantity = kind

	if raw := q.Get("bucket_size"); raw != "" {
		if raw == "null" {
			req.bucketSize = nil
		} else {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 1 {
				return req, "Invalid parameter 'bucket_size'"
			}
			if n != 1 {
				req.bucketSize = &n
			}
		}
	}

	if raw := q.Get("oldest"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, "Invalid parameter 'oldest'"
		}
		req.oldest = &n
	}

	if raw := q.Get("newest"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, "Invalid parameter 'newest'"
		}
		req.newest = &n
	}

	if raw := q.Get("format"); raw != "" {
		if ext != "csv" {
			return req, "Unused parameters 'format'"
		}
		if raw != "csv" && raw != "csv-be" {
			return req, "Invalid parameter 'format'"
		}
		req.format = raw
	}

	var unused []string
	for key := range q {
		if !seen[key] {
			unused = append(unused, key)
		}
	}
	if len(unused) > 0 {
		return req, "Unused parameters '" + strings.Join(unused, ", ") + "'"
	}

	if ext == "json" {
		bounded := req.oldest != nil && req.newest != nil && req.bucketSize != nil
		if bounded {
			span := *req.newest - *req.oldest
			req.tooLarge = span/(*req.bucketSize) > maxJSONRows
		}
	}

	return req, ""
}

func (h *Handler) serveJSON(w http.ResponseWriter, st *store.Store, req parsedRequest) {
	w.Header().Set("Content-Type", "application/json")

	unbounded := req.oldest == nil || req.newest == nil || req.bucketSize == nil
	if unbounded || req.tooLarge {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"kind":  req.quantity.Name,
			"error": "too many items requested",
		})
		return
	}

	rows, err := st.Fetch(req.quantity, req.bucketSize, req.oldest, req.newest)
	if err != nil {
		http.Error(w, "fetch failed", http.StatusInternalServerError)
		return
	}

	buckets := series.Buckets{BucketSize: req.bucketSize}
	if req.newest != nil && req.oldest != nil {
		buckets.WindowSize = *req.newest - *req.oldest
	}
	s := series.Empty(req.quantity, buckets)
	s.Extend(rows)

	json.NewEncoder(w).Encode(s.Encode())
}

func (h *Handler) serveCSV(w http.ResponseWriter, r *http.Request, st *store.Store, req parsedRequest) {
	w.Header().Set("Content-Type", "text/csv")

	var out writeFlusher = &noFlush{w}
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		out = gz
	}

	header := "timestamp"
	for _, c := range req.quantity.Columns {
		header += "," + c.Name
	}
	fmt.Fprintf(out, "%s\n", header)

	sep, decimal := ",", "."
	if req.format == "csv-be" {
		sep, decimal = "\t", ","
	}

	cursor, err := st.FetchCursor(req.quantity, req.bucketSize, req.oldest, req.newest)
	if err != nil {
		return
	}
	defer cursor.Close()

	for {
		batch, err := cursor.Next(csvBatchSize)
		if err != nil {
			return
		}
		for _, row := range batch {
			fields := make([]string, 0, 1+len(row.Values))
			fields = append(fields, strconv.FormatInt(row.Timestamp, 10))
			for _, v := range row.Values {
				s := formatCSVFloat(v, decimal)
				fields = append(fields, s)
			}
			fmt.Fprintf(out, "%s\n", strings.Join(fields, sep))
		}
		out.Flush()
		if len(batch) < csvBatchSize {
			return
		}
	}
}

func formatCSVFloat(v series.Float, decimal string) string {
	if v.IsNaN() {
		return ""
	}
	s := strconv.FormatFloat(float64(v), 'f', -1, 64)
	if decimal != "." {
		s = strings.Replace(s, ".", decimal, 1)
	}
	return s
}

// writeFlusher is implemented by both a plain http.ResponseWriter
// wrapper (no-op flush) and a gzip.Writer (real flush), so serveCSV
// can batch without caring which.
type writeFlusher interface {
	Write(p []byte) (int, error)
	Flush() error
}

type noFlush struct{ w http.ResponseWriter }

func (n *noFlush) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n *noFlush) Flush() error {
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
