package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roshinpv/regulateai/pkg/agency"
	"github.com/roshinpv/regulateai/pkg/fetch"
	"github.com/roshinpv/regulateai/pkg/update"
)

// Auth header names for agencies that do not take a bearer token.
var defaultAuthHeaders = map[string]string{
	"SEC":  "X-SEC-API-KEY",
	"CFPB": "X-API-Key",
}

// APICollector reads agency JSON APIs through per-endpoint mappers.
type APICollector struct {
	base
	mappers *Mappers
}

// NewAPICollector returns a collector over cfg.APIEndpoints.
func NewAPICollector(cfg agency.AgencyConfig, client *fetch.Client, deps Deps) *APICollector {
	m := deps.Mappers
	if m == nil {
		m = DefaultMappers()
	}
	return &APICollector{base: newBase(cfg, update.KindAPI, client, deps.Now), mappers: m}
}

// Headers returns the request headers for this agency.
func (c *APICollector) Headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	key := strings.TrimSpace(c.agency.APIKey)
	if key == "" {
		return h
	}
	name := c.agency.AuthHeader
	if name == "" {
		name = defaultAuthHeaders[c.agency.ID]
	}
	if name == "" || strings.EqualFold(name, "Authorization") {
		h["Authorization"] = "Bearer " + key
	} else {
		h[name] = key
	}
	return h
}

// CollectUpdates implements Collector.
func (c *APICollector) CollectUpdates(ctx context.Context) []update.Update {
	var out []update.Update
	headers := c.Headers()
	for _, name := range c.agency.EndpointNames() {
		if ctx.Err() != nil {
			break
		}
		endpoint := c.agency.APIEndpoints[name]
		mapper, ok := c.mappers.Lookup(c.agency.ID, name)
		if !ok {
			c.logger.DebugContext(ctx, "no mapper for endpoint", "endpoint", name)
			continue
		}

		resp, err := c.client.Get(ctx, endpoint, headers)
		if err != nil {
			c.sourceFailed(ctx, endpoint, err)
			continue
		}
		data, err := decodeObject(resp.Body)
		if err != nil {
			c.sourceFailed(ctx, endpoint, &ParseError{Source: endpoint, Err: err})
			continue
		}

		fields, entryErrs := mapper.Map(data)
		for i, err := range entryErrs {
			entryErrs[i] = &ParseError{Source: endpoint, Err: err}
		}
		c.entriesDropped(ctx, entryErrs)
		for i := range fields {
			if fields[i].Metadata == nil {
				fields[i].Metadata = update.NewMetadata()
			}
			fields[i].Metadata.SetString("endpoint", name)
		}
		withSnapshot(fields, resp.Snapshot)
		out = append(out, c.emit(ctx, fields)...)
	}
	return out
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("response is not a json object")
	}
	return data, nil
}
