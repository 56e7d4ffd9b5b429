package permbackup

import "time"

// Manifest records what an archive contains and where it came from,
// so a bundle found on any drive is self-describing.
type Manifest struct {
	CreatedAt time.Time    `json:"created_at"`
	Hostname  string       `json:"hostname"`
	Drives    []DriveEntry `json:"drives"`
}

// DriveEntry is one archived drive in manifest order.
type DriveEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ManifestFileName is the archive member carrying the Manifest.
const ManifestFileName = "manifest.json"
