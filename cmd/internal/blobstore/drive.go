package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveDirectLinkFmt = "https://lh3.googleusercontent.com/d/%s=w800"

// DriveStore is a Store backed by a Google Drive folder. The container id is the folder id.
//
// Credentials are obtained out of band (service account key file); the token exchange flow is not
// part of the relay.
type DriveStore struct {
	svc *drive.Service
}

// NewDriveService builds a Drive client scoped to files created by the app.
func NewDriveService(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*drive.Service, error) {
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(drive.DriveFileScope))

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return svc, nil
}

// NewDriveStore wraps a Drive client.
func NewDriveStore(svc *drive.Service) (*DriveStore, error) {
	if svc == nil {
		return nil, errors.New("blobstore: nil drive service")
	}
	return &DriveStore{svc: svc}, nil
}

// DriveDirectLink returns the image-serving link for a Drive file id.
func DriveDirectLink(id string) string {
	return fmt.Sprintf(driveDirectLinkFmt, id)
}

// Upload creates a file in the folder and returns its view and direct links.
func (s *DriveStore) Upload(ctx context.Context, name, mimeType string, data []byte, containerID string) (StorageRef, error) {
	if name == "" || containerID == "" {
		return StorageRef{}, ErrInvalidInput
	}

	var mediaOpts []googleapi.MediaOption
	if mimeType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(mimeType))
	}

	f, err := s.svc.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{containerID},
	}).
		Media(bytes.NewReader(data), mediaOpts...).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return StorageRef{}, driveErr("upload", err)
	}

	return StorageRef{
		ID:        f.Id,
		URL:       f.WebViewLink,
		DirectURL: DriveDirectLink(f.Id),
	}, nil
}

// SetPublicRead grants "anyone" reader access.
func (s *DriveStore) SetPublicRead(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	_, err := s.svc.Permissions.Create(id, &drive.Permission{
		Role: "reader",
		Type: "anyone",
	}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return driveErr("set public read", err)
	}
	return nil
}

// GetDocument downloads the file content.
func (s *DriveStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	resp, err := s.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, driveErr("get document", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{Op: "get document", Code: resp.StatusCode, Message: resp.Status}
	}
	return io.ReadAll(resp.Body)
}

// PutDocument replaces the file content.
func (s *DriveStore) PutDocument(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}

	_, err := s.svc.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(data), googleapi.ContentType("application/json")).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return driveErr("put document", err)
	}
	return nil
}

// FindDocumentByName searches the folder for a non-trashed file with the given name.
func (s *DriveStore) FindDocumentByName(ctx context.Context, name, containerID string) (string, error) {
	if name == "" || containerID == "" {
		return "", ErrInvalidInput
	}

	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeDriveQuery(name), escapeDriveQuery(containerID))

	res, err := s.svc.Files.List().
		Q(q).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", driveErr("find document", err)
	}
	if len(res.Files) == 0 {
		return "", ErrNotFound
	}
	return res.Files[0].Id, nil
}

// CreateDocument creates a JSON file in the folder.
func (s *DriveStore) CreateDocument(ctx context.Context, name, containerID string, initial []byte) (string, error) {
	if name == "" || containerID == "" {
		return "", ErrInvalidInput
	}

	f, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		Parents:  []string{containerID},
		MimeType: "application/json",
	}).
		Media(bytes.NewReader(initial), googleapi.ContentType("application/json")).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", driveErr("create document", err)
	}
	return f.Id, nil
}

// driveErr maps googleapi errors: 404 becomes ErrNotFound, everything else a RemoteError
// carrying the response body for the uploader's error details.
func driveErr(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &RemoteError{Op: op, Code: gerr.Code, Message: msg, Body: gerr.Body}
}

func escapeDriveQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

var _ Store = (*DriveStore)(nil)
