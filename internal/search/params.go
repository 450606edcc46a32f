package search

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/meridian-search/meridian/pkg/errors"
)

// Params is a search request as received on the wire.
type Params struct {
	Query                 string   `json:"query"`
	Filters               string   `json:"filters,omitempty"`
	Facets                []string `json:"facets,omitempty"`
	Page                  *int     `json:"page,omitempty"`
	HitsPerPage           *int     `json:"hitsPerPage,omitempty"`
	AttributesToRetrieve  []string `json:"attributesToRetrieve,omitempty"`
	AttributesToHighlight []string `json:"attributesToHighlight,omitempty"`
	TypoTolerance         *bool    `json:"typoTolerance,omitempty"`
}

// ParseParams decodes a search request body. Clients may send the parameters
// either as top-level JSON attributes or packed into a "params" attribute as
// a URL-encoded query string; the packed form wins when both are present.
func ParseParams(body []byte) (Params, error) {
	var p Params
	if len(body) == 0 {
		return p, nil
	}
	var envelope struct {
		Params string `json:"params"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return p, errors.Newf(errors.ErrValidation, 400, "invalid search request JSON: %v", err)
	}
	if envelope.Params != "" {
		return parseEncodedParams(envelope.Params)
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, errors.Newf(errors.ErrValidation, 400, "invalid search request JSON: %v", err)
	}
	return p, p.validate()
}

func parseEncodedParams(encoded string) (Params, error) {
	var p Params
	values, err := url.ParseQuery(encoded)
	if err != nil {
		return p, errors.Newf(errors.ErrValidation, 400, "invalid params string: %v", err)
	}
	p.Query = values.Get("query")
	p.Filters = values.Get("filters")
	if v := values.Get("facets"); v != "" {
		if err := json.Unmarshal([]byte(v), &p.Facets); err != nil {
			p.Facets = strings.Split(v, ",")
		}
	}
	if v := values.Get("attributesToRetrieve"); v != "" {
		if err := json.Unmarshal([]byte(v), &p.AttributesToRetrieve); err != nil {
			p.AttributesToRetrieve = strings.Split(v, ",")
		}
	}
	if v := values.Get("attributesToHighlight"); v != "" {
		if err := json.Unmarshal([]byte(v), &p.AttributesToHighlight); err != nil {
			p.AttributesToHighlight = strings.Split(v, ",")
		}
	}
	if v := values.Get("page"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return p, errors.Newf(errors.ErrValidation, 400, "invalid page %q", v)
		}
		p.Page = &n
	}
	if v := values.Get("hitsPerPage"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return p, errors.Newf(errors.ErrValidation, 400, "invalid hitsPerPage %q", v)
		}
		p.HitsPerPage = &n
	}
	if v := values.Get("typoTolerance"); v != "" {
		b := v == "true"
		p.TypoTolerance = &b
	}
	return p, p.validate()
}

func (p *Params) validate() error {
	if p.Page != nil && *p.Page < 0 {
		return errors.New(errors.ErrValidation, 400, "page must not be negative")
	}
	if p.HitsPerPage != nil && *p.HitsPerPage < 1 {
		return errors.New(errors.ErrValidation, 400, "hitsPerPage must be at least 1")
	}
	return nil
}

// Encode renders the parameters as the URL-encoded string echoed back in the
// response's params attribute.
func (p *Params) Encode() string {
	values := url.Values{}
	values.Set("query", p.Query)
	if p.Filters != "" {
		values.Set("filters", p.Filters)
	}
	if len(p.Facets) > 0 {
		values.Set("facets", strings.Join(p.Facets, ","))
	}
	if p.Page != nil {
		values.Set("page", strconv.Itoa(*p.Page))
	}
	if p.HitsPerPage != nil {
		values.Set("hitsPerPage", strconv.Itoa(*p.HitsPerPage))
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(values.Get(k)))
	}
	return b.String()
}

// Hit is one result document plus its computed result attributes
// (_highlightResult, _snippetResult).
type Hit map[string]any

// Result is the wire shape of a search response.
type Result struct {
	Hits             []Hit                     `json:"hits"`
	NbHits           int                       `json:"nbHits"`
	Page             int                       `json:"page"`
	NbPages          int                       `json:"nbPages"`
	HitsPerPage      int                       `json:"hitsPerPage"`
	ProcessingTimeMS int                       `json:"processingTimeMS"`
	Facets           map[string]map[string]int `json:"facets,omitempty"`
	ExhaustiveNbHits bool                      `json:"exhaustiveNbHits"`
	Query            string                    `json:"query"`
	Params           string                    `json:"params"`
}
