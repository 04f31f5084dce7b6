package library

// Stats is the conversion status of the upload root at scan time.
// Remaining is always Total minus Converted.
type Stats struct {
	Total     int `json:"total"`
	Converted int `json:"converted"`
	Remaining int `json:"remaining"`
}

// Image is one eligible source file found under the upload root.
type Image struct {
	Path      string `json:"path"`
	WebPPath  string `json:"webp_path"`
	Converted bool   `json:"converted"`
}
