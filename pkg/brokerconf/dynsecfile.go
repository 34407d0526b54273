package brokerconf

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"
)

// AdminUsername and AdminRole name the built-in dynamic-security admin
// client and role. They are re-asserted on every import so an uploaded store
// can never lock the management plane out of the broker.
const (
	AdminUsername = "bunker"
	AdminRole     = "admin"
)

// defaultDynsec is the factory dynamic-security store: the admin client, the
// admin role with full control-topic access, and permissive default ACLs.
const defaultDynsec = `{
	"defaultACLAccess": {
		"publishClientSend": true,
		"publishClientReceive": true,
		"subscribe": true,
		"unsubscribe": true
	},
	"clients": [{
		"username": "bunker",
		"textname": "Dynsec admin user",
		"roles": [{"rolename": "admin"}],
		"password": "bZDAuypZzNug9z7yoB3vmEwGIx1COCRaN8m16bEbnAoVJxBYxz1x9fMR7cB7ToC2Kj+txYEq2bWrl1H3GtnRlg==",
		"salt": "MfMHo5wStiQVCpnt",
		"iterations": 101
	}],
	"groups": [],
	"roles": [{
		"rolename": "admin",
		"acls": [
			{"acltype": "publishClientSend", "topic": "$CONTROL/dynamic-security/#", "priority": 0, "allow": true},
			{"acltype": "publishClientReceive", "topic": "$CONTROL/dynamic-security/#", "priority": 0, "allow": true},
			{"acltype": "publishClientReceive", "topic": "$SYS/#", "priority": 0, "allow": true},
			{"acltype": "publishClientReceive", "topic": "#", "priority": 0, "allow": true},
			{"acltype": "subscribePattern", "topic": "#", "priority": 0, "allow": true},
			{"acltype": "subscribePattern", "topic": "$CONTROL/dynamic-security/#", "priority": 0, "allow": true},
			{"acltype": "subscribePattern", "topic": "$SYS/#", "priority": 0, "allow": true},
			{"acltype": "unsubscribePattern", "topic": "#", "priority": 0, "allow": true}
		]
	}]
}`

// DynsecDocument is the dynamic-security JSON store. Clients, groups, and
// roles stay as raw JSON so fields this package does not model (password
// hashes, textnames, priorities) survive a read-modify-write cycle intact.
type DynsecDocument struct {
	DefaultACLAccess json.RawMessage   `json:"defaultACLAccess"`
	Clients          []json.RawMessage `json:"clients"`
	Groups           []json.RawMessage `json:"groups"`
	Roles            []json.RawMessage `json:"roles"`
}

// Validate checks that all required top-level sections are present.
func (d DynsecDocument) Validate() error {
	if len(d.DefaultACLAccess) == 0 {
		return fmt.Errorf("brokerconf: dynsec store missing defaultACLAccess")
	}
	if d.Clients == nil {
		return fmt.Errorf("brokerconf: dynsec store missing clients")
	}
	if d.Groups == nil {
		return fmt.Errorf("brokerconf: dynsec store missing groups")
	}
	if d.Roles == nil {
		return fmt.Errorf("brokerconf: dynsec store missing roles")
	}
	return nil
}

// clientUsername extracts the username field from a raw client entry.
func clientUsername(raw json.RawMessage) string {
	var peek struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	return peek.Username
}

// roleName extracts the rolename field from a raw role entry.
func roleName(raw json.RawMessage) string {
	var peek struct {
		Rolename string `json:"rolename"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ""
	}
	return peek.Rolename
}

// DefaultDynsecDocument returns the factory store.
func DefaultDynsecDocument() DynsecDocument {
	var doc DynsecDocument
	if err := json.Unmarshal([]byte(defaultDynsec), &doc); err != nil {
		panic(fmt.Sprintf("brokerconf: default dynsec store does not parse: %v", err))
	}
	return doc
}

// MergeDynsec combines an imported store with the factory defaults. The
// built-in admin client and admin role always come from the defaults;
// imported entries under those names are discarded, everything else is kept.
func MergeDynsec(imported DynsecDocument) DynsecDocument {
	defaults := DefaultDynsecDocument()

	merged := imported
	if len(merged.DefaultACLAccess) == 0 {
		merged.DefaultACLAccess = defaults.DefaultACLAccess
	}
	if merged.Groups == nil {
		merged.Groups = []json.RawMessage{}
	}

	clients := []json.RawMessage{defaults.Clients[0]}
	for _, c := range imported.Clients {
		if clientUsername(c) != AdminUsername {
			clients = append(clients, c)
		}
	}
	merged.Clients = clients

	roles := []json.RawMessage{defaults.Roles[0]}
	for _, r := range imported.Roles {
		if roleName(r) != AdminRole {
			roles = append(roles, r)
		}
	}
	merged.Roles = roles

	return merged
}

// DynsecStore loads and rewrites the dynamic-security JSON file.
type DynsecStore struct {
	path      string
	backupDir string
	log       *slog.Logger
	now       func() time.Time
}

// NewDynsecStore creates a store for the file at path, keeping backups
// under backupDir.
func NewDynsecStore(path, backupDir string, log *slog.Logger) (*DynsecStore, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("brokerconf: create backup dir: %w", err)
	}
	return &DynsecStore{path: path, backupDir: backupDir, log: log, now: time.Now}, nil
}

// Load reads and validates the current store.
func (s *DynsecStore) Load() (DynsecDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return DynsecDocument{}, fmt.Errorf("brokerconf: read dynsec store: %w", err)
	}
	var doc DynsecDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return DynsecDocument{}, fmt.Errorf("brokerconf: parse dynsec store: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return DynsecDocument{}, err
	}
	return doc, nil
}

// Save backs up the current file and writes doc, tab-indented the way
// Mosquitto's own tooling formats it.
func (s *DynsecStore) Save(doc DynsecDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := backupFile(s.path, s.backupDir, "dynamic-security.json", s.now(), s.log); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return fmt.Errorf("brokerconf: encode dynsec store: %w", err)
	}
	return atomicWrite(s.path, data, 0o644)
}

// Import merges an uploaded store with the defaults and saves the result.
func (s *DynsecStore) Import(imported DynsecDocument) error {
	if err := imported.Validate(); err != nil {
		return err
	}
	return s.Save(MergeDynsec(imported))
}

// AddUsers appends clients for any usernames not already present. New
// entries carry no password; they authenticate through the broker password
// file until one is set. Returns the usernames actually added.
func (s *DynsecStore) AddUsers(usernames []string) ([]string, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}

	existing := map[string]bool{}
	for _, c := range doc.Clients {
		existing[clientUsername(c)] = true
	}

	var added []string
	for _, username := range usernames {
		if existing[username] {
			continue
		}
		salt, err := randomSalt(16)
		if err != nil {
			return nil, err
		}
		entry, err := json.Marshal(map[string]any{
			"username":   username,
			"roles":      []any{},
			"salt":       salt,
			"iterations": 101,
		})
		if err != nil {
			return nil, fmt.Errorf("brokerconf: encode client entry: %w", err)
		}
		doc.Clients = append(doc.Clients, entry)
		existing[username] = true
		added = append(added, username)
	}

	if len(added) == 0 {
		return nil, nil
	}
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	s.log.Info("added clients to dynsec store", "count", len(added))
	return added, nil
}

const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func randomSalt(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(saltAlphabet))))
		if err != nil {
			return "", fmt.Errorf("brokerconf: generate salt: %w", err)
		}
		out[i] = saltAlphabet[n.Int64()]
	}
	return string(out), nil
}
