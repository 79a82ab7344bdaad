package salesforce

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/davidmreed/amaxa-sub000/internal/connection"
	"github.com/davidmreed/amaxa-sub000/internal/schema"
)

type sobjectSummary struct {
	Name       string `json:"name"`
	KeyPrefix  string `json:"keyPrefix"`
	Queryable  bool   `json:"queryable"`
	Createable bool   `json:"createable"`
	Updateable bool   `json:"updateable"`
}

type fieldDescribe struct {
	Name                string   `json:"name"`
	Type                string   `json:"type"`
	ReferenceTo         []string `json:"referenceTo"`
	Length              int      `json:"length"`
	Createable          bool     `json:"createable"`
	Updateable          bool     `json:"updateable"`
	DeprecatedAndHidden bool     `json:"deprecatedAndHidden"`
}

// GlobalDescribe lists the org's object types.
func (c *Client) GlobalDescribe(ctx context.Context) ([]schema.ObjectSummary, error) {
	var resp struct {
		SObjects []sobjectSummary `json:"sobjects"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.restURL("sobjects/"), false, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.ObjectSummary, 0, len(resp.SObjects))
	for _, s := range resp.SObjects {
		out = append(out, schema.ObjectSummary{
			Name:       s.Name,
			KeyPrefix:  s.KeyPrefix,
			Queryable:  s.Queryable,
			Createable: s.Createable,
			Updateable: s.Updateable,
		})
	}
	return out, nil
}

// DescribeObject returns the field list of sobject. Every described field
// is queryable; hidden fields are not accessible.
func (c *Client) DescribeObject(ctx context.Context, sobject string) (schema.ObjectDescribe, error) {
	var resp struct {
		Name   string          `json:"name"`
		Fields []fieldDescribe `json:"fields"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.restURL("sobjects/"+url.PathEscape(sobject)+"/describe"), false, nil, &resp); err != nil {
		return schema.ObjectDescribe{}, err
	}
	d := schema.ObjectDescribe{Name: resp.Name, Fields: make([]schema.Field, 0, len(resp.Fields))}
	for _, f := range resp.Fields {
		d.Fields = append(d.Fields, schema.Field{
			Name:        f.Name,
			Type:        schema.TypeFromAPI(f.Type),
			ReferenceTo: f.ReferenceTo,
			Length:      f.Length,
			Createable:  f.Createable,
			Updateable:  f.Updateable,
			Queryable:   true,
			Accessible:  !f.DeprecatedAndHidden,
		})
	}
	return d, nil
}

type queryResponse struct {
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

func (q queryResponse) page() connection.QueryPage {
	return connection.QueryPage{Records: q.Records, Done: q.Done, NextRecordsURL: q.NextRecordsURL}
}

// Query runs soql through the REST query endpoint.
func (c *Client) Query(ctx context.Context, soql string) (connection.QueryPage, error) {
	var resp queryResponse
	target := c.restURL("query") + "?q=" + url.QueryEscape(soql)
	if err := c.doJSON(ctx, http.MethodGet, target, false, nil, &resp); err != nil {
		return connection.QueryPage{}, err
	}
	return resp.page(), nil
}

// QueryMore fetches the page at a nextRecordsUrl, which is relative to the
// instance.
func (c *Client) QueryMore(ctx context.Context, next string) (connection.QueryPage, error) {
	var resp queryResponse
	target := c.instanceURL + "/" + strings.TrimPrefix(next, "/")
	if err := c.doJSON(ctx, http.MethodGet, target, false, nil, &resp); err != nil {
		return connection.QueryPage{}, err
	}
	return resp.page(), nil
}

// Retrieve uses the composite sObject collection retrieve call.
func (c *Client) Retrieve(ctx context.Context, sobject string, ids []string, fields []string) ([]map[string]any, error) {
	body := struct {
		IDs    []string `json:"ids"`
		Fields []string `json:"fields"`
	}{IDs: ids, Fields: fields}
	var resp []map[string]any
	if err := c.doJSON(ctx, http.MethodPost, c.restURL("composite/sobjects/"+url.PathEscape(sobject)), false, body, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
