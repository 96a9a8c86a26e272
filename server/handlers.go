package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/madeddie/mebooks/acquire"
	"github.com/madeddie/mebooks/catalog"
	"github.com/madeddie/mebooks/config"
	"github.com/madeddie/mebooks/crawler"
	"github.com/madeddie/mebooks/credentials"
	"github.com/madeddie/mebooks/fetch"
	"github.com/madeddie/mebooks/opds"
	"github.com/madeddie/mebooks/preview"
	"github.com/madeddie/mebooks/search"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// defaultMaxPages bounds /api/catalog/pages when maxPages is not given.
const defaultMaxPages = 5

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	cfg      *config.Config
	fetcher  *fetch.Fetcher
	resolver *acquire.Resolver
	searcher *search.Searcher
	previews *preview.Pool
	crawler  *crawler.Crawler
	creds    credentials.Store
	logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(
	cfg *config.Config,
	fetcher *fetch.Fetcher,
	resolver *acquire.Resolver,
	searcher *search.Searcher,
	previews *preview.Pool,
	crawl *crawler.Crawler,
	creds credentials.Store,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: resolver,
		searcher: searcher,
		previews: previews,
		crawler:  crawl,
		creds:    creds,
		logger:   logger,
	}
}

type errorBody struct {
	Error        string             `json:"error"`
	Kind         string             `json:"kind,omitempty"`
	Status       int                `json:"status,omitempty"`
	ProxyUsed    bool               `json:"proxyUsed,omitempty"`
	Hint         string             `json:"hint,omitempty"`
	AuthDocument *opds.AuthDocument `json:"authDocument,omitempty"`
}

type catalogInfo struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	URL     string `json:"url"`
	Version string `json:"version,omitempty"`
}

type acquireRequest struct {
	Href    string `json:"href"`
	Base    string `json:"base,omitempty"`
	Version string `json:"version,omitempty"`
	// Type is the acquisition link's media type.
	Type string `json:"type,omitempty"`
}

type acquireResponse struct {
	URL      string `json:"url"`
	Resolved bool   `json:"resolved"`
}

type previewsRequest struct {
	URL   string            `json:"url,omitempty"`
	Lanes []preview.LaneRef `json:"lanes,omitempty"`
}

type credentialRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCatalogs lists the catalogs configured at startup.
func (h *Handler) HandleCatalogs(w http.ResponseWriter, r *http.Request) {
	out := make([]catalogInfo, 0, len(h.cfg.Catalogs))
	for _, c := range h.cfg.Catalogs {
		out = append(out, catalogInfo{Name: c.Name, Slug: c.Slug(), URL: c.URL, Version: c.Version})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCatalog fetches and normalizes one catalog page, applying any
// filters given in the query string.
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	res, ok := h.loadCatalog(w, r)
	if !ok {
		return
	}
	filters := filtersFromQuery(r.URL.Query())
	if filters != (catalog.Filters{}) {
		filtered := *res
		filtered.Books = filters.Apply(res.Books)
		res = &filtered
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePages fetches a catalog and up to maxPages of its next pages as
// one merged result.
func (h *Handler) HandlePages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if !isHTTPURL(target) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "url must be an absolute http(s) URL"})
		return
	}
	maxPages, _ := strconv.Atoi(q.Get("maxPages"))
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	pages, err := h.crawler.FetchWithLimit(r.Context(), target, opds.ParseVersion(q.Get("version")), maxPages)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

// HandleCatalogTree crawls a configured catalog's navigation to its
// configured depth.
func (h *Handler) HandleCatalogTree(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	for _, c := range h.cfg.Catalogs {
		if c.Slug() != slug {
			continue
		}
		tree, err := h.crawler.Crawl(r.Context(), c.URL, opds.ParseVersion(c.Version), c.Depth)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tree)
		return
	}
	writeJSON(w, http.StatusNotFound, errorBody{Error: "catalog not found"})
}

// HandleLanes groups a catalog page's books into subject lanes.
func (h *Handler) HandleLanes(w http.ResponseWriter, r *http.Request) {
	res, ok := h.loadCatalog(w, r)
	if !ok {
		return
	}
	books := filtersFromQuery(r.URL.Query()).Apply(res.Books)
	writeJSON(w, http.StatusOK, catalog.GroupBySubject(books))
}

// HandlePreviews loads the first books of several lanes. The lanes are
// given explicitly or taken from the navigation links of a catalog URL.
func (h *Handler) HandlePreviews(w http.ResponseWriter, r *http.Request) {
	var req previewsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lanes := req.Lanes
	if req.URL != "" {
		res, err := h.fetcher.FetchCatalog(r.Context(), req.URL, opds.VersionAuto)
		if err != nil {
			h.writeError(w, err)
			return
		}
		lanes = append(lanes, preview.LanesFromResult(res)...)
	}
	if len(lanes) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "no lanes to preview"})
		return
	}
	writeJSON(w, http.StatusOK, h.previews.Fetch(r.Context(), lanes))
}

// HandleAcquire resolves an acquisition link to a downloadable URL.
func (h *Handler) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	href := req.Href
	if req.Base != "" {
		href = opds.ResolveURL(req.Base, href)
	}
	if !isHTTPURL(href) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "href must be an absolute http(s) URL"})
		return
	}
	final, err := h.resolve(r.Context(), href, opds.ParseVersion(req.Version), req.Type)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acquireResponse{URL: final, Resolved: final != ""})
}

// HandleAcquireRedirect resolves href and redirects to the result. It
// backs the acquisition links of republished lane feeds.
func (h *Handler) HandleAcquireRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	href := q.Get("href")
	if !isHTTPURL(href) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "href must be an absolute http(s) URL"})
		return
	}
	final, err := h.resolve(r.Context(), href, opds.ParseVersion(q.Get("version")), q.Get("type"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if final == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "could not resolve acquisition link"})
		return
	}
	http.Redirect(w, r, final, http.StatusFound)
}

func (h *Handler) resolve(ctx context.Context, href string, version opds.Version, mediaType string) (string, error) {
	var cred *credentials.Credential
	if h.creds != nil {
		c, ok, err := h.creds.FindCredentialForURL(ctx, href)
		if err != nil {
			return "", err
		}
		if ok {
			cred = &c
		}
	}
	return h.resolver.Resolve(ctx, href, version, mediaType, cred)
}

// HandleSearch searches one catalog, given by its OpenSearch description
// or URL template, or every configured catalog when none is given.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := search.Query{Terms: strings.TrimSpace(q.Get("q"))}
	if query.Terms == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing q parameter"})
		return
	}
	query.StartIndex, _ = strconv.Atoi(q.Get("startIndex"))
	query.Count, _ = strconv.Atoi(q.Get("count"))

	if desc := q.Get("description"); desc != "" {
		res, err := h.searcher.Search(r.Context(), desc, query)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusOK, h.searcher.SearchAll(r.Context(), h.searchSources(r.Context()), query))
}

// searchSources finds the search link of every configured catalog.
func (h *Handler) searchSources(ctx context.Context) []search.Source {
	var out []search.Source
	for _, c := range h.cfg.Catalogs {
		res, err := h.fetcher.FetchCatalog(ctx, c.URL, opds.ParseVersion(c.Version))
		if err != nil {
			h.logger.Warn("catalog unavailable for search", "name", c.Name, "error", err)
			continue
		}
		if res.SearchURL != "" {
			out = append(out, search.Source{Name: c.Name, SearchURL: res.SearchURL})
		}
	}
	return out
}

// HandleSaveCredential stores a login for a catalog host.
func (h *Handler) HandleSaveCredential(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "username is required"})
		return
	}
	if err := h.creds.SaveOPDSCredential(r.Context(), host, req.Username, req.Password); err != nil {
		h.logger.Error("save credential failed", "host", host, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not save credential"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteCredential forgets the login for a catalog host.
func (h *Handler) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	if err := h.creds.DeleteOPDSCredential(r.Context(), host); err != nil {
		h.logger.Error("delete credential failed", "host", host, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not delete credential"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLaneFeed republishes one subject lane of a catalog page as an
// OPDS 1 acquisition feed.
func (h *Handler) HandleLaneFeed(w http.ResponseWriter, r *http.Request) {
	res, ok := h.loadCatalog(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("lane")
	var lane *catalog.Lane
	for _, l := range catalog.GroupBySubject(res.Books) {
		if strings.EqualFold(l.Category, name) {
			lane = &l
			break
		}
	}
	if lane == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "lane not found"})
		return
	}
	version := opds.ParseVersion(r.URL.Query().Get("version"))
	feed := opds.LaneFeed{
		ID:      "urn:mebooks:lane:" + url.QueryEscape(r.URL.Query().Get("url")) + ":" + url.QueryEscape(lane.Category),
		Title:   lane.Category,
		SelfURL: r.URL.RequestURI(),
		Books:   rewriteAcquisitions(lane.Books, "", version),
		Updated: time.Now(),
	}
	w.Header().Set("Content-Type", opds.MediaTypeOPDSAcq+"; charset=utf-8")
	if err := opds.Render(w, feed); err != nil {
		h.logger.Error("failed to write OPDS response", "error", err)
	}
}

// loadCatalog fetches the catalog named by the url, base and version query
// parameters, writing an error response on failure.
func (h *Handler) loadCatalog(w http.ResponseWriter, r *http.Request) (*catalog.Result, bool) {
	q := r.URL.Query()
	target := q.Get("url")
	if base := q.Get("base"); base != "" {
		target = opds.ResolveURL(base, target)
	}
	if !isHTTPURL(target) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "url must be an absolute http(s) URL"})
		return nil, false
	}
	res, err := h.fetcher.FetchCatalog(r.Context(), target, opds.ParseVersion(q.Get("version")))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return res, true
}

func filtersFromQuery(q url.Values) catalog.Filters {
	return catalog.Filters{
		Audience:        q.Get("audience"),
		Fiction:         q.Get("fiction"),
		Media:           q.Get("media"),
		Availability:    q.Get("availability"),
		Distributor:     q.Get("distributor"),
		PublicationType: q.Get("publicationType"),
		Collection:      q.Get("collection"),
	}
}

// writeError renders a failed catalog operation with a status the UI can
// branch on.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: fetch.UserMessage(err)}
	status := http.StatusBadGateway
	if fe, ok := fetch.AsError(err); ok {
		body.Kind = fe.Kind.String()
		body.Status = fe.Status
		body.ProxyUsed = fe.ProxyUsed
		body.Hint = fe.Hint
		body.AuthDocument = fe.AuthDocument
		switch fe.Kind {
		case fetch.KindAuthRequired:
			status = http.StatusUnauthorized
		case fetch.KindRateLimited:
			status = http.StatusTooManyRequests
		case fetch.KindMalformed, fetch.KindAmbiguousFormat:
			status = http.StatusUnprocessableEntity
		}
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	h.logger.Warn("request failed", "error", err, "status", status)
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
