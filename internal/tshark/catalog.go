package tshark

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// MaxCatalogResults caps ListFields.
const MaxCatalogResults = 1000

// FieldQuery searches the dissector field catalog.
type FieldQuery struct {
	Query            string
	IsRegex          bool
	CaseSensitive    bool
	Limit            int
	IncludeProtocols bool
}

// ListFields searches `tshark -G fields` for fields (and optionally
// protocols) whose name, filter name or protocol matches fq.Query.
func (e *Engine) ListFields(ctx context.Context, fq FieldQuery) (fields []model.FieldInfo, err error) {
	ctx, done := e.begin(ctx, "fields", Query{})
	defer func() { err = done(err, len(fields)) }()

	if fq.Limit <= 0 {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "limit must be > 0", map[string]any{"limit": fq.Limit})
	}
	if fq.Limit > MaxCatalogResults {
		fq.Limit = MaxCatalogResults
	}
	catalog, err := e.catalog(ctx, e.store.Current())
	if err != nil {
		return nil, err
	}
	return searchCatalog(catalog, fq)
}

// catalog returns the raw field catalog listing.
func (e *Engine) catalog(ctx context.Context, cfg *config.Config) (string, error) {
	tag := strings.Join(cfg.GlobalPreferences, "\n")
	if out, ok := e.catalogs.Lookup(cfg.TsharkPath, tag); ok {
		e.logger.Debug("field catalog cache hit", zap.String("tshark", cfg.TsharkPath))
		return out, nil
	}

	args := []string{cfg.TsharkPath, "-G", "fields"}
	e.logger.Debug("running tshark", zap.Strings("args", args))
	res, err := e.runner.Run(ctx, args, cfg.DefaultTimeoutDuration)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", qerr.WithDetails(qerr.Internal, "tshark -G fields failed", map[string]any{
			"stderr": strings.TrimSpace(res.Stderr),
		})
	}
	e.catalogs.Store(cfg.TsharkPath, tag, res.Stdout)
	return res.Stdout, nil
}

// searchCatalog filters a catalog listing. Each record is
// kind, name, filter name, type, protocol separated by tabs.
func searchCatalog(catalog string, fq FieldQuery) ([]model.FieldInfo, error) {
	q := strings.TrimSpace(fq.Query)
	var match func(string) bool
	if q != "" {
		re, err := compileMatcher(q, fq.IsRegex, fq.CaseSensitive)
		if err != nil {
			return nil, err
		}
		match = re.MatchString
	}

	items := []model.FieldInfo{}
	for _, line := range strings.Split(catalog, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		col := func(i int) string {
			if i < len(parts) {
				return strings.TrimSpace(parts[i])
			}
			return ""
		}
		kind := col(0)
		if kind != "F" && kind != "P" {
			continue
		}
		if kind == "P" && !fq.IncludeProtocols {
			continue
		}
		info := model.FieldInfo{Kind: kind, Name: col(1), Field: col(2), Type: col(3), Proto: col(4)}
		if match != nil && !match(strings.TrimSpace(info.Name+" "+info.Field+" "+info.Proto)) {
			continue
		}
		items = append(items, info)
		if len(items) >= fq.Limit {
			break
		}
	}
	return items, nil
}

// suggest looks up catalog entries resembling each of the first few
// invalid field names. Lookup failures yield empty suggestions.
func (e *Engine) suggest(ctx context.Context, cfg *config.Config, invalid []string) map[string][]string {
	out := make(map[string][]string)
	if len(invalid) == 0 {
		return out
	}
	if len(invalid) > maxSuggestedFields {
		invalid = invalid[:maxSuggestedFields]
	}
	catalog, err := e.catalog(ctx, cfg)
	if err != nil {
		e.logger.Debug("field suggestions unavailable", zap.Error(err))
	}
	for _, name := range invalid {
		names := []string{}
		if err == nil {
			found, ferr := searchCatalog(catalog, FieldQuery{Query: name, Limit: maxSuggestedFields})
			if ferr == nil {
				for _, f := range found {
					names = append(names, f.Field)
				}
			}
		}
		out[name] = names
	}
	return out
}
