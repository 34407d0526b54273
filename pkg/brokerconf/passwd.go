package brokerconf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// passwdLine matches one mosquitto_passwd entry: username, then a hash in
// crypt-style $id$... form.
var passwdLine = regexp.MustCompile(`^[^:]+:\$\d+\$[^:]+$`)

// ErrInvalidPasswd is wrapped by password file validation failures.
var ErrInvalidPasswd = errors.New("brokerconf: invalid password file")

// ValidatePasswd checks that r holds a well-formed mosquitto_passwd file and
// returns the usernames it declares. Blank lines are skipped; the first
// malformed line fails the whole file with its line number.
func ValidatePasswd(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var users []string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !passwdLine.MatchString(line) {
			return nil, fmt.Errorf("%w: bad entry at line %d", ErrInvalidPasswd, lineNo)
		}
		username, _, _ := strings.Cut(line, ":")
		users = append(users, username)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("brokerconf: read password file: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidPasswd)
	}
	return users, nil
}

// PasswdImporter installs uploaded password files and mirrors their users
// into the dynamic-security store.
type PasswdImporter struct {
	passwdPath string
	backupDir  string
	dynsec     *DynsecStore
	log        *slog.Logger
	now        func() time.Time
}

// NewPasswdImporter creates an importer writing to passwdPath. dynsec
// receives a client entry for every imported user.
func NewPasswdImporter(passwdPath, backupDir string, dynsec *DynsecStore, log *slog.Logger) (*PasswdImporter, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("brokerconf: create backup dir: %w", err)
	}
	return &PasswdImporter{
		passwdPath: passwdPath,
		backupDir:  backupDir,
		dynsec:     dynsec,
		log:        log,
		now:        time.Now,
	}, nil
}

// ImportResult reports what an import changed.
type ImportResult struct {
	Users      []string `json:"users"`
	AddedUsers []string `json:"added_users"`
}

// Import validates content, backs up and replaces the broker password file,
// and adds any new users to the dynamic-security store.
func (p *PasswdImporter) Import(content []byte) (ImportResult, error) {
	users, err := ValidatePasswd(strings.NewReader(string(content)))
	if err != nil {
		return ImportResult{}, err
	}

	if err := backupFile(p.passwdPath, p.backupDir, "mosquitto_passwd", p.now(), p.log); err != nil {
		return ImportResult{}, err
	}
	if err := atomicWrite(p.passwdPath, content, 0o644); err != nil {
		return ImportResult{}, err
	}

	added, err := p.dynsec.AddUsers(users)
	if err != nil {
		return ImportResult{}, err
	}

	p.log.Info("imported password file", "users", len(users), "new_clients", len(added))
	return ImportResult{Users: users, AddedUsers: added}, nil
}
