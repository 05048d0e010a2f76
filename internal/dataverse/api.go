package dataverse

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/toltec-astro/dvpipe/internal/models"
)

// InfoVersion returns the installation version string.
func (c *Client) InfoVersion(ctx context.Context) (string, error) {
	data, err := c.call(ctx, request{method: http.MethodGet, path: "/info/version"})
	if err != nil {
		return "", err
	}
	return data.Get("version").String(), nil
}

// Dataverse is a collection on the installation.
type Dataverse struct {
	ID    int64  `json:"id"`
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

// GetDataverse looks up a collection by alias or numeric id (":root" for the
// root collection).
func (c *Client) GetDataverse(ctx context.Context, id string) (*Dataverse, error) {
	data, err := c.call(ctx, request{method: http.MethodGet, path: "/dataverses/" + id})
	if err != nil {
		return nil, err
	}
	return &Dataverse{
		ID:    data.Get("id").Int(),
		Alias: data.Get("alias").String(),
		Name:  data.Get("name").String(),
	}, nil
}

// Item is one child of a collection.
type Item struct {
	Type         string `json:"type"`
	ID           int64  `json:"id"`
	Title        string `json:"title,omitempty"`
	PersistentID string `json:"persistent_id,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Contents lists the direct children of a collection.
func (c *Client) Contents(ctx context.Context, id string) ([]Item, error) {
	data, err := c.call(ctx, request{method: http.MethodGet, path: "/dataverses/" + id + "/contents"})
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, r := range data.Array() {
		it := Item{
			Type:  r.Get("type").String(),
			ID:    r.Get("id").Int(),
			Title: r.Get("title").String(),
			URL:   r.Get("persistentUrl").String(),
		}
		if r.Get("identifier").Exists() {
			it.PersistentID = fmt.Sprintf("%s:%s/%s",
				r.Get("protocol").String(), r.Get("authority").String(), r.Get("identifier").String())
		}
		out = append(out, it)
	}
	return out, nil
}

// SearchQuery holds the parameters of the search API.
type SearchQuery struct {
	Q       string
	Type    string
	Subtree string
	Sort    string
	Order   string
	PerPage int
	Start   int
	// Extra passes additional raw parameters through.
	Extra map[string]string
}

func (q SearchQuery) params() map[string]string {
	p := map[string]string{"q": q.Q}
	if p["q"] == "" {
		p["q"] = "*"
	}
	for k, v := range q.Extra {
		p[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	set("type", q.Type)
	set("subtree", q.Subtree)
	set("sort", q.Sort)
	set("order", q.Order)
	if q.PerPage > 0 {
		p["per_page"] = strconv.Itoa(q.PerPage)
	}
	if q.Start > 0 {
		p["start"] = strconv.Itoa(q.Start)
	}
	return p
}

// SearchItem is one search hit.
type SearchItem struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	GlobalID    string `json:"global_id,omitempty"`
	URL         string `json:"url,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// SearchResult is a page of search hits.
type SearchResult struct {
	Query string       `json:"q"`
	Total int64        `json:"total_count"`
	Items []SearchItem `json:"items"`
}

// Search runs a search query.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	data, err := c.call(ctx, request{method: http.MethodGet, path: "/search", query: q.params()})
	if err != nil {
		return nil, err
	}
	res := &SearchResult{
		Query: data.Get("q").String(),
		Total: data.Get("total_count").Int(),
	}
	data.Get("items").ForEach(func(_, r gjson.Result) bool {
		res.Items = append(res.Items, SearchItem{
			Name:        r.Get("name").String(),
			Type:        r.Get("type").String(),
			GlobalID:    r.Get("global_id").String(),
			URL:         r.Get("url").String(),
			PublishedAt: r.Get("published_at").String(),
		})
		return true
	})
	return res, nil
}

// RemoteFile is a data file already in a dataset version.
type RemoteFile struct {
	ID             int64  `json:"id"`
	Label          string `json:"label"`
	DirectoryLabel string `json:"directoryLabel,omitempty"`
	MD5            string `json:"md5,omitempty"`
	Restricted     bool   `json:"restricted"`
}

// Datafiles lists the files of dataset pid at version (":latest" when empty).
func (c *Client) Datafiles(ctx context.Context, pid, version string) ([]RemoteFile, error) {
	if version == "" {
		version = ":latest"
	}
	data, err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/datasets/:persistentId/versions/" + version + "/files",
		query:  map[string]string{"persistentId": pid},
	})
	if err != nil {
		return nil, err
	}
	var out []RemoteFile
	for _, r := range data.Array() {
		df := r.Get("dataFile")
		md5 := df.Get("md5").String()
		if md5 == "" && df.Get("checksum.type").String() == "MD5" {
			md5 = df.Get("checksum.value").String()
		}
		out = append(out, RemoteFile{
			ID:             df.Get("id").Int(),
			Label:          r.Get("label").String(),
			DirectoryLabel: r.Get("directoryLabel").String(),
			MD5:            md5,
			Restricted:     r.Get("restricted").Bool(),
		})
	}
	return out, nil
}

// CreateDataset creates a draft dataset in collection parent and returns its
// persistent id.
func (c *Client) CreateDataset(ctx context.Context, parent string, dataset []byte) (string, error) {
	data, err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/dataverses/" + parent + "/datasets",
		body:   dataset,
	})
	if err != nil {
		return "", err
	}
	pid := data.Get("persistentId").String()
	if pid == "" {
		return "", fmt.Errorf("dataverse: create dataset: no persistentId in response")
	}
	return pid, nil
}

// EditDatasetMetadata updates the draft metadata of pid with a
// {"fields": [...]} document. With replace set existing values are overwritten.
func (c *Client) EditDatasetMetadata(ctx context.Context, pid string, fields []byte, replace bool) error {
	q := map[string]string{"persistentId": pid}
	if replace {
		q["replace"] = "true"
	}
	_, err := c.call(ctx, request{
		method: http.MethodPut,
		path:   "/datasets/:persistentId/editMetadata",
		query:  q,
		body:   fields,
	})
	return err
}

func fileJSON(f models.DataFile, force bool) (string, error) {
	doc := "{}"
	var err error
	set := func(path string, v any) {
		if err == nil {
			doc, err = sjson.Set(doc, path, v)
		}
	}
	if f.Description != "" {
		set("description", f.Description)
	}
	if f.DirectoryLabel != "" {
		set("directoryLabel", f.DirectoryLabel)
	}
	if len(f.Categories) > 0 {
		set("categories", f.Categories)
	}
	set("restrict", f.Restrict)
	if force {
		set("forceReplace", true)
	}
	return doc, err
}

func fileID(data gjson.Result) int64 {
	return data.Get("files.0.dataFile.id").Int()
}

// UploadDatafile adds the local file at path to dataset pid and returns the
// new file id.
func (c *Client) UploadDatafile(ctx context.Context, pid, path string, f models.DataFile) (int64, error) {
	meta, err := fileJSON(f, false)
	if err != nil {
		return 0, fmt.Errorf("dataverse: upload %s: %w", path, err)
	}
	data, err := c.call(ctx, request{
		method:   http.MethodPost,
		path:     "/datasets/:persistentId/add",
		query:    map[string]string{"persistentId": pid},
		file:     path,
		fileName: f.DisplayLabel(),
		form:     map[string]string{"jsonData": meta},
	})
	if err != nil {
		return 0, err
	}
	return fileID(data), nil
}

// ReplaceDatafile replaces remote file id with the local file at path and
// returns the id of the replacement.
func (c *Client) ReplaceDatafile(ctx context.Context, id int64, path string, f models.DataFile) (int64, error) {
	meta, err := fileJSON(f, true)
	if err != nil {
		return 0, fmt.Errorf("dataverse: replace %s: %w", path, err)
	}
	data, err := c.call(ctx, request{
		method:   http.MethodPost,
		path:     "/files/" + strconv.FormatInt(id, 10) + "/replace",
		file:     path,
		fileName: f.DisplayLabel(),
		form:     map[string]string{"jsonData": meta},
	})
	if err != nil {
		return 0, err
	}
	return fileID(data), nil
}

// PublishDataset publishes pid with a major or minor version bump.
func (c *Client) PublishDataset(ctx context.Context, pid string, typ PublishType) error {
	if typ != PublishMajor && typ != PublishMinor {
		return fmt.Errorf("dataverse: publish %s: invalid release type %q", pid, typ)
	}
	_, err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/datasets/:persistentId/actions/:publish",
		query:  map[string]string{"persistentId": pid, "type": string(typ)},
	})
	return err
}

// DeleteDataset deletes the unpublished dataset pid.
func (c *Client) DeleteDataset(ctx context.Context, pid string) error {
	_, err := c.call(ctx, request{
		method: http.MethodDelete,
		path:   "/datasets/:persistentId/",
		query:  map[string]string{"persistentId": pid},
	})
	return err
}

// User is an authenticated user account.
type User struct {
	ID         int64  `json:"id" yaml:"id"`
	Identifier string `json:"identifier" yaml:"identifier"`
	FirstName  string `json:"first_name" yaml:"first_name"`
	LastName   string `json:"last_name" yaml:"last_name"`
	Email      string `json:"email" yaml:"email"`
	Superuser  bool   `json:"superuser" yaml:"superuser"`
}

func userOf(r gjson.Result) User {
	return User{
		ID:         r.Get("id").Int(),
		Identifier: r.Get("identifier").String(),
		FirstName:  r.Get("firstName").String(),
		LastName:   r.Get("lastName").String(),
		Email:      r.Get("email").String(),
		Superuser:  r.Get("superuser").Bool(),
	}
}

// CurrentUser returns the account owning the API token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	data, err := c.call(ctx, request{method: http.MethodGet, path: "/users/:me"})
	if err != nil {
		return nil, err
	}
	u := userOf(data)
	return &u, nil
}

// ListUsers returns every account. It needs a superuser token.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	data, err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/admin/list-users",
		query:  map[string]string{"itemsPerPage": "1000"},
	})
	if err != nil {
		return nil, err
	}
	var out []User
	for _, r := range data.Get("users").Array() {
		u := userOf(r)
		if u.Identifier == "" {
			u.Identifier = r.Get("userIdentifier").String()
		}
		out = append(out, u)
	}
	return out, nil
}
