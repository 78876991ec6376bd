package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// File is the on-disk catalog description. Portal parameters live in the
// TOML file; the room to remote id mapping of each building lives in a CSV file.
type File struct {
	RoomsDir  string     `toml:"rooms_dir"`
	Buildings []Building `toml:"building"`
}

// Building holds the portal parameters shared by every room of a building
type Building struct {
	ID        string `toml:"id"`
	Name      string `toml:"name"`
	BuildID   string `toml:"build_id"`
	SysID     string `toml:"sys_id"`
	AreaID    string `toml:"area_id"`
	RoomsFile string `toml:"rooms_file"`
}

// Header names accepted for the room and remote id columns
var (
	roomColumns   = []string{"room", "实际房间"}
	remoteColumns = []string{"remote_id", "roomid"}
)

// Load reads the catalog at path. Buildings whose rooms file is missing are
// skipped with a warning; any other problem is returned as an error.
// Entries keep file order: buildings as listed, rooms as they appear in each CSV.
func Load(path string, logger zerolog.Logger) ([]models.CatalogEntry, error) {
	var file File
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	roomsDir := file.RoomsDir
	if !filepath.IsAbs(roomsDir) {
		roomsDir = filepath.Join(filepath.Dir(path), roomsDir)
	}

	var entries []models.CatalogEntry
	seenBuildings := make(map[string]bool, len(file.Buildings))
	for _, b := range file.Buildings {
		if b.ID == "" {
			return nil, fmt.Errorf("catalog %s: building without id", path)
		}
		if seenBuildings[b.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate building %q", path, b.ID)
		}
		seenBuildings[b.ID] = true

		roomsPath := filepath.Join(roomsDir, b.RoomsFile)
		f, err := os.Open(roomsPath)
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().
				Str("building", b.ID).
				Str("path", roomsPath).
				Msg("Rooms file not found, skipping building")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open rooms file for building %s: %w", b.ID, err)
		}

		rooms, err := readRooms(f, b)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read rooms file %s: %w", roomsPath, err)
		}
		entries = append(entries, rooms...)

		logger.Debug().
			Str("building", b.ID).
			Int("rooms", len(rooms)).
			Msg("Loaded building")
	}

	logger.Info().
		Int("buildings", len(file.Buildings)).
		Int("rooms", len(entries)).
		Msg("Catalog loaded")

	return entries, nil
}

// readRooms parses one building's CSV. Rows with an empty remote id are kept;
// the fetcher reports them as failed without calling the portal.
func readRooms(r io.Reader, b Building) ([]models.CatalogEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	roomIdx := columnIndex(header, roomColumns)
	remoteIdx := columnIndex(header, remoteColumns)
	if roomIdx < 0 || remoteIdx < 0 {
		return nil, fmt.Errorf("header %v must name a room and a remote id column", header)
	}

	var entries []models.CatalogEntry
	seen := make(map[string]bool)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		room := strings.TrimSpace(record[roomIdx])
		if room == "" {
			continue
		}
		if seen[room] {
			return nil, fmt.Errorf("duplicate room %q", room)
		}
		seen[room] = true

		entries = append(entries, models.CatalogEntry{
			Building: b.ID,
			Room:     room,
			RemoteID: strings.TrimSpace(record[remoteIdx]),
			BuildID:  b.BuildID,
			SysID:    b.SysID,
			AreaID:   b.AreaID,
		})
	}
	return entries, nil
}

func columnIndex(header []string, names []string) int {
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		for _, name := range names {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}
