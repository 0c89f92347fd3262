package models

import (
	"path"
	"strings"
	"time"

	id "fundops/pkg/domain"
)

// Evidence is metadata for an uploaded document. Upload is two-phase: the
// record is registered with a reserved storage URI and UploadedAt stays nil
// until the upload is confirmed.
type Evidence struct {
	ID           id.EvidenceID    `json:"id"`
	FundID       id.FundID        `json:"fund_id"`
	DealID       *id.DealID       `json:"deal_id,omitempty"`
	ActionID     *id.ActionID     `json:"action_id,omitempty"`
	ReportPackID *id.ReportPackID `json:"report_pack_id,omitempty"`
	Folder       string           `json:"folder"`
	Filename     string           `json:"filename"`
	StorageURI   string           `json:"storage_uri"`
	UploadedAt   *time.Time       `json:"uploaded_at,omitempty"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
}

// CleanFolder normalizes a folder path and rejects traversal.
func CleanFolder(folder string) (string, error) {
	f := strings.Trim(strings.TrimSpace(folder), "/")
	if f == "" {
		return "", invalidInput("folder is required")
	}
	cleaned := path.Clean(f)
	if cleaned != f || strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, "/../") {
		return "", invalidInput("folder must be a clean relative path")
	}
	return strings.ToLower(cleaned), nil
}

// CleanFilename rejects names that could escape a folder.
func CleanFilename(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" || len(n) > 255 || strings.ContainsAny(n, `/\`) || n == "." || n == ".." {
		return "", invalidInput("filename must be a plain file name")
	}
	return n, nil
}

// RootFolder is the partition key the scope filter narrows by.
func (e *Evidence) RootFolder() string {
	root, _, _ := strings.Cut(e.Folder, "/")
	return root
}

// UploadComplete reports whether the second upload phase was confirmed.
func (e *Evidence) UploadComplete() bool {
	return e.UploadedAt != nil
}

func (e *Evidence) CanConfirmUpload() error {
	if e.UploadComplete() {
		return validation(ReasonEvidenceAlreadyUploaded, "evidence upload was already confirmed")
	}
	return nil
}

func (e *Evidence) ApplyUpload(now time.Time) {
	at := now
	e.UploadedAt = &at
}
