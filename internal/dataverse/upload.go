package dataverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/toltec-astro/dvpipe/internal/apperr"
	"github.com/toltec-astro/dvpipe/internal/checksum"
	"github.com/toltec-astro/dvpipe/internal/metadata"
	"github.com/toltec-astro/dvpipe/internal/models"
)

// Action selects what UploadDataset does when the dataset already exists.
type Action string

const (
	// ActionNone leaves an existing dataset alone.
	ActionNone Action = "none"
	// ActionUpdate refreshes the metadata and the changed files of an
	// existing dataset.
	ActionUpdate Action = "update"
	// ActionCreate always creates a new dataset.
	ActionCreate Action = "create"
)

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionNone, ActionUpdate, ActionCreate:
		return a, nil
	}
	return "", fmt.Errorf("dataverse: invalid action %q (want none, update or create)", s)
}

// PublishType selects how the dataset is released after upload.
type PublishType string

const (
	PublishNone  PublishType = "none"
	PublishMajor PublishType = "major"
	PublishMinor PublishType = "minor"
)

// ParsePublishType validates s as a PublishType.
func ParsePublishType(s string) (PublishType, error) {
	switch p := PublishType(strings.ToLower(s)); p {
	case PublishNone, PublishMajor, PublishMinor:
		return p, nil
	}
	return "", fmt.Errorf("dataverse: invalid publish type %q (want none, major or minor)", s)
}

// UploadResult reports what UploadDataset did.
type UploadResult struct {
	PID             string   `json:"pid"`
	Created         bool     `json:"created"`
	MetadataUpdated bool     `json:"metadata_updated"`
	Published       bool     `json:"published"`
	Uploaded        []string `json:"uploaded,omitempty"`
	Replaced        []string `json:"replaced,omitempty"`
	Skipped         []string `json:"skipped,omitempty"`
}

// Uploader deposits dataset indices through a Client.
type Uploader struct {
	client   *Client
	newGroup func() *metadata.Group
	logger   *slog.Logger
}

// NewUploader returns an uploader. newGroup supplies the metadata blocks the
// index metadata is validated against.
func NewUploader(client *Client, newGroup func() *metadata.Group, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, newGroup: newGroup, logger: logger}
}

// Document validates the metadata of idx and returns the wire document of its
// populated blocks. The dataset title fills the title field when the metadata
// leaves it unset.
func (u *Uploader) Document(idx *models.DatasetIndex) (metadata.Document, error) {
	g := u.newGroup()
	if err := g.LoadFlat(idx.Dataset.Metadata); err != nil {
		return nil, err
	}
	if b, ok := g.Owner("title"); ok && idx.Dataset.Title != "" {
		if _, set := b.Leaf("title"); !set {
			if err := b.SetField("title", idx.Dataset.Title, ""); err != nil {
				return nil, err
			}
		}
	}
	doc := make(metadata.Document)
	for _, b := range g.Blocks() {
		if len(b.Keys()) == 0 {
			continue
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		doc.Merge(b.ToWire())
	}
	return doc, nil
}

// UploadDataset creates or updates the dataset described by idx in the
// collection parent and returns what was done.
//
// With ActionCreate a new dataset is always created. Otherwise the newest
// dataset in parent with the same title is looked up: when none exists one is
// created; with ActionNone an existing dataset is left alone and nothing else
// happens; with ActionUpdate its metadata is replaced, files whose MD5 differs
// are replaced and files missing remotely are added. Publishing happens last.
func (u *Uploader) UploadDataset(ctx context.Context, parent string, idx *models.DatasetIndex, action Action, publish PublishType) (*UploadResult, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}
	if _, err := ParsePublishType(string(publish)); err != nil {
		return nil, err
	}
	dv, err := u.client.GetDataverse(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("dataverse: parent %s: %w", parent, err)
	}
	u.logger.Info("dataverse: upload dataset",
		slog.String("project_id", idx.Meta.ProjectID),
		slog.String("parent", dv.Alias))

	doc, err := u.Document(idx)
	if err != nil {
		return nil, err
	}
	res := &UploadResult{}
	create := func() error {
		body, err := DatasetJSON(doc)
		if err != nil {
			return err
		}
		pid, err := u.client.CreateDataset(ctx, parent, body)
		if err != nil {
			return err
		}
		res.PID, res.Created = pid, true
		u.logger.Info("dataverse: created dataset", slog.String("pid", pid))
		return nil
	}

	if action == ActionCreate {
		if err := create(); err != nil {
			return nil, err
		}
	} else {
		found, err := u.client.Search(ctx, SearchQuery{
			Q:       fmt.Sprintf("title:%q", idx.Dataset.Title),
			Type:    "dataset",
			Subtree: parent,
			Sort:    "date",
			Order:   "desc",
		})
		if err != nil {
			return nil, err
		}
		switch {
		case len(found.Items) == 0:
			u.logger.Debug("dataverse: no existing dataset", slog.String("title", idx.Dataset.Title))
			if err := create(); err != nil {
				return nil, err
			}
		default:
			if len(found.Items) > 1 {
				u.logger.Warn("dataverse: multiple datasets match, using the latest",
					slog.String("title", idx.Dataset.Title),
					slog.Int("matches", len(found.Items)),
					slog.String("pid", found.Items[0].GlobalID))
			}
			res.PID = found.Items[0].GlobalID
			if action == ActionNone {
				u.logger.Info("dataverse: dataset exists, nothing to do", slog.String("pid", res.PID))
				return res, nil
			}
			fields, err := FieldsJSON(doc)
			if err != nil {
				return nil, err
			}
			if err := u.client.EditDatasetMetadata(ctx, res.PID, fields, true); err != nil {
				return nil, err
			}
			res.MetadataUpdated = true
		}
	}

	if err := u.syncFiles(ctx, idx, res, action == ActionUpdate && !res.Created); err != nil {
		return res, err
	}

	if publish == PublishMajor || publish == PublishMinor {
		if err := u.client.PublishDataset(ctx, res.PID, publish); err != nil {
			return res, err
		}
		res.Published = true
		u.logger.Info("dataverse: published dataset",
			slog.String("pid", res.PID),
			slog.String("type", string(publish)))
	}
	return res, nil
}

func localPath(idx *models.DatasetIndex, f models.DataFile) string {
	if filepath.IsAbs(f.Filename) || idx.Meta.ProjectDir == "" {
		return f.Filename
	}
	return filepath.Join(idx.Meta.ProjectDir, f.Filename)
}

func (u *Uploader) syncFiles(ctx context.Context, idx *models.DatasetIndex, res *UploadResult, update bool) error {
	remote := make(map[string][]RemoteFile)
	if update {
		files, err := u.client.Datafiles(ctx, res.PID, ":latest")
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		for _, rf := range files {
			remote[rf.Label] = append(remote[rf.Label], rf)
		}
	}
	for _, f := range idx.Files {
		label := f.DisplayLabel()
		path := localPath(idx, f)
		matches := remote[label]
		if len(matches) == 0 {
			if _, err := u.client.UploadDatafile(ctx, res.PID, path, f); err != nil {
				return err
			}
			res.Uploaded = append(res.Uploaded, label)
			u.logger.Info("dataverse: uploaded file", slog.String("label", label))
			continue
		}
		if len(matches) > 1 {
			u.logger.Warn("dataverse: multiple remote files share a label", slog.String("label", label))
		}
		sum, err := checksum.FileMD5(path)
		if err != nil {
			return fmt.Errorf("dataverse: %w", err)
		}
		if strings.EqualFold(sum, matches[0].MD5) {
			res.Skipped = append(res.Skipped, label)
			u.logger.Info("dataverse: skip unchanged file", slog.String("label", label))
			continue
		}
		if _, err := u.client.ReplaceDatafile(ctx, matches[0].ID, path, f); err != nil {
			return err
		}
		res.Replaced = append(res.Replaced, label)
		u.logger.Info("dataverse: replaced file", slog.String("label", label))
	}
	return nil
}
