package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"steersim/engine/internal/input"
)

// InputRecord is one decoded line of the input log.
type InputRecord struct {
	Tick       uint64         `json:"tick"`
	CapturedAt time.Time      `json:"captured_at"`
	Input      input.Snapshot `json:"input"`
}

// Frame is one decoded pose frame. Payload is the EncodePose blob.
type Frame struct {
	Tick       uint64    `json:"tick"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"payload"`
}

// Bundle is a fully loaded recording.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	Inputs   []InputRecord
	Frames   []Frame
}

// ReadBundle loads the manifest, header, inputs and frames. path may name the
// bundle directory or its manifest.json.
func ReadBundle(path string) (*Bundle, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	//1.- Locate the manifest so asset paths resolve relative to it.
	manifestPath := path
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		manifestPath = filepath.Join(path, "manifest.json")
	}
	dir := filepath.Dir(manifestPath)

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	headerPath := manifest.HeaderPath
	if headerPath == "" {
		headerPath = "header.json"
	}
	header, err := ReadHeader(filepath.Join(dir, headerPath))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	//2.- Inputs first, then frames; both are ordered by tick on disk.
	inputs, err := loadInputs(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	frames, err := loadFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}

	return &Bundle{Dir: dir, Manifest: manifest, Header: header, Inputs: inputs, Frames: frames}, nil
}

func loadInputs(path string) ([]InputRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []InputRecord
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw eventRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, err
		}
		if raw.Type != EventTypeInput {
			continue
		}
		captured, err := time.Parse(time.RFC3339Nano, raw.CapturedAt)
		if err != nil {
			return nil, err
		}
		var in input.Snapshot
		if err := json.Unmarshal(raw.Payload, &in); err != nil {
			return nil, fmt.Errorf("tick %d: %w", raw.Tick, err)
		}
		records = append(records, InputRecord{Tick: raw.Tick, CapturedAt: captured, Input: in})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func loadFrames(path string) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	offset := 0
	for offset+frameHeaderSize <= len(payload) {
		//1.- Fixed header, then the pose blob.
		tick := binary.LittleEndian.Uint64(payload[offset : offset+8])
		captured := int64(binary.LittleEndian.Uint64(payload[offset+8 : offset+16]))
		size := int(binary.LittleEndian.Uint32(payload[offset+16 : offset+20]))
		offset += frameHeaderSize
		if offset+size > len(payload) {
			return nil, fmt.Errorf("frame payload truncated")
		}
		frames = append(frames, Frame{
			Tick:       tick,
			CapturedAt: time.Unix(0, captured).UTC(),
			Payload:    append([]byte(nil), payload[offset:offset+size]...),
		})
		offset += size
	}
	if offset != len(payload) {
		return nil, fmt.Errorf("trailing %d bytes after last frame", len(payload)-offset)
	}
	return frames, nil
}
