package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Paths names the directory files. Empty paths use built-in defaults
// (blocklist, departments) or empty lists (customers, agents).
type Paths struct {
	Customers   string
	Agents      string
	Blocklist   string
	Departments string
}

// Load reads all configured files into a snapshot. Missing customer and
// agent files are logged and treated as empty.
func Load(p Paths) (*Snapshot, error) {
	customers, err := loadOptional(p.Customers, LoadCustomers)
	if err != nil {
		return nil, err
	}
	agents, err := loadOptional(p.Agents, LoadAgents)
	if err != nil {
		return nil, err
	}

	blocked := DefaultBlocklist
	if p.Blocklist != "" {
		if blocked, err = LoadBlocklist(p.Blocklist); err != nil {
			return nil, err
		}
	}

	departments := DefaultDepartments
	if p.Departments != "" {
		if departments, err = LoadDepartments(p.Departments); err != nil {
			return nil, err
		}
	}

	snap := New(blocked, customers, agents, departments)
	b, c, a := snap.Counts()
	slog.Info("[Directory] Loaded", "blocked", b, "customers", c, "agents", a)
	return snap, nil
}

func loadOptional[T any](path string, load func(string) ([]T, error)) ([]T, error) {
	if path == "" {
		return nil, nil
	}
	items, err := load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("[Directory] File not found, using empty list", "path", path)
		return nil, nil
	}
	return items, err
}

// LoadCustomers reads customers from .json, .yaml or .xlsx.
func LoadCustomers(path string) ([]Customer, error) {
	if isSpreadsheet(path) {
		rows, err := readSheet(path)
		if err != nil {
			return nil, err
		}
		nameIdx, phoneIdx := column(rows[0], "name"), column(rows[0], "phone")
		if phoneIdx < 0 {
			return nil, fmt.Errorf("%s: no phone column", path)
		}
		var out []Customer
		for _, r := range rows[1:] {
			c := Customer{Name: cell(r, nameIdx), PhoneNumber: cell(r, phoneIdx)}
			if c.PhoneNumber != "" {
				out = append(out, c)
			}
		}
		return out, nil
	}
	var out []Customer
	return out, decodeFile(path, &out)
}

// LoadAgents reads agents from .json, .yaml or .xlsx.
func LoadAgents(path string) ([]Agent, error) {
	if isSpreadsheet(path) {
		rows, err := readSheet(path)
		if err != nil {
			return nil, err
		}
		h := rows[0]
		nameIdx, deptIdx, extIdx := column(h, "name"), column(h, "department"), column(h, "extension")
		if extIdx < 0 {
			return nil, fmt.Errorf("%s: no extension column", path)
		}
		var out []Agent
		for _, r := range rows[1:] {
			a := Agent{Name: cell(r, nameIdx), Department: cell(r, deptIdx), ExtensionNumber: cell(r, extIdx)}
			if a.ExtensionNumber != "" {
				out = append(out, a)
			}
		}
		return out, nil
	}
	var out []Agent
	return out, decodeFile(path, &out)
}

// LoadBlocklist reads a list of numbers; spreadsheets use the first column.
func LoadBlocklist(path string) ([]string, error) {
	if isSpreadsheet(path) {
		rows, err := readSheet(path)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, r := range rows {
			if n := cell(r, 0); NormalizeNumber(n) != "" {
				out = append(out, n)
			}
		}
		return out, nil
	}
	var out []string
	return out, decodeFile(path, &out)
}

// LoadDepartments reads a department to extension map.
func LoadDepartments(path string) (map[string]string, error) {
	out := map[string]string{}
	return out, decodeFile(path, &out)
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, v)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		return fmt.Errorf("%s: unsupported file type", path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func isSpreadsheet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

func readSheet(path string) ([][]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%s: read rows: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: empty sheet", path)
	}
	return rows, nil
}

func column(header []string, key string) int {
	for i, h := range header {
		if strings.Contains(strings.ToLower(strings.TrimSpace(h)), key) {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
