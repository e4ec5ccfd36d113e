package nssfile

const (
	// PlaceholderPasswd points passwd/group consumers at the shadow file.
	PlaceholderPasswd = "x"
	// LockedHash is the only shadow hash ever written.
	LockedHash = "!"
)

type PasswdEntry struct {
	Name   string
	Passwd string
	UID    int
	GID    int
	Gecos  string
	Home   string
	Shell  string
}

// ShadowEntry keeps the aging fields as raw strings; they are always empty
// in rendered output.
type ShadowEntry struct {
	Name       string
	Hash       string
	LastChange string
	Min        string
	Max        string
	Warn       string
	Inactive   string
	Expire     string
	Reserved   string
}

type GroupEntry struct {
	Name    string
	Passwd  string
	GID     int
	Members []string
}

// Locked returns the shadow line for a user that can never log in by password.
func Locked(name string) ShadowEntry {
	return ShadowEntry{Name: name, Hash: LockedHash}
}
