package artifacts

import _ "embed"

// Global artifacts

// GlobalSettings is the default settings.yaml written on first use and
// parsed for fallback values.
//
//go:embed global/settings.yaml
var GlobalSettings []byte
