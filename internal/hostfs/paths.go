package hostfs

import "os"

// Well-known output file names.
const (
	PasswdName   = "passwd"
	GroupName    = "group"
	ShadowName   = "shadow"
	ManifestName = "manifest.json"
	TokenName    = "manifest.jwt"
)

const (
	PublicPerm os.FileMode = 0644
	ShadowPerm os.FileMode = 0640
)
