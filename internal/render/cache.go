package render

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/dgallion1/proxyvote/internal/metrics"
)

// Entry is a rendered document as held by the cache.
type Entry struct {
	Format     Format `json:"format"`
	Text       string `json:"-"`
	TextHash   string `json:"text_blake3"`
	SourceHash string `json:"source_blake3"`
}

// Cache memoizes rendered documents by document identifier. Entries live in a
// bounded in-memory LRU and, when a directory is configured, as xz-compressed
// files on disk. Concurrent first access to one identifier renders once: the
// per-key lock is acquired before rendering and released after the write.
type Cache struct {
	dir     string
	mem     *lru.Cache[string, Entry]
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewCache creates a cache holding up to entries renders in memory. An empty
// dir disables the disk tier.
func NewCache(dir string, entries int, m *metrics.Metrics) (*Cache, error) {
	if entries <= 0 {
		entries = 64
	}
	mem, err := lru.New[string, Entry](entries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cache{
		dir:     dir,
		mem:     mem,
		metrics: m,
		locks:   make(map[string]*keyLock),
	}, nil
}

// ContentHash returns the hex BLAKE3 digest of data.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) acquire(id string) *keyLock {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &keyLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()
	l.mu.Lock()
	return l
}

func (c *Cache) release(id string, l *keyLock) {
	l.mu.Unlock()
	c.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, id)
	}
	c.mu.Unlock()
}

// Render returns the cached rendering of raw under id, rendering and storing
// it on a miss. A cached entry whose source hash differs from raw is stale and
// is rendered again.
func (c *Cache) Render(id string, raw []byte) (Entry, error) {
	key := cacheKey(id)
	sourceHash := ContentHash(raw)

	l := c.acquire(key)
	defer c.release(key, l)

	if e, ok := c.mem.Get(key); ok && e.SourceHash == sourceHash {
		c.metrics.CacheLookup("memory", true)
		return e, nil
	}
	c.metrics.CacheLookup("memory", false)

	if c.dir != "" {
		e, err := c.readDisk(key)
		hit := err == nil && e.SourceHash == sourceHash
		c.metrics.CacheLookup("disk", hit)
		if hit {
			c.mem.Add(key, e)
			return e, nil
		}
	}

	format, text, err := Render(raw)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Format:     format,
		Text:       text,
		TextHash:   ContentHash([]byte(text)),
		SourceHash: sourceHash,
	}
	if c.dir != "" {
		if err := c.writeDisk(key, e); err != nil {
			return Entry{}, err
		}
	}
	c.mem.Add(key, e)
	return e, nil
}

// Get returns a cached entry without rendering.
func (c *Cache) Get(id string) (Entry, bool) {
	key := cacheKey(id)
	l := c.acquire(key)
	defer c.release(key, l)

	if e, ok := c.mem.Get(key); ok {
		return e, true
	}
	if c.dir == "" {
		return Entry{}, false
	}
	e, err := c.readDisk(key)
	if err != nil {
		return Entry{}, false
	}
	c.mem.Add(key, e)
	return e, true
}

// cacheKey turns a document identifier into a safe file stem.
func cacheKey(id string) string {
	id = filepath.Base(id)
	id = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	if id == "" || id == "." {
		id = "unnamed"
	}
	return id
}

func (c *Cache) paths(key string) (text, meta string) {
	return filepath.Join(c.dir, key+".txt.xz"), filepath.Join(c.dir, key+".json")
}

func (c *Cache) readDisk(key string) (Entry, error) {
	textPath, metaPath := c.paths(key)
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(metaData, &e); err != nil {
		return Entry{}, fmt.Errorf("decode cache meta: %w", err)
	}

	f, err := os.Open(textPath)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()
	zr, err := xz.NewReader(f)
	if err != nil {
		return Entry{}, fmt.Errorf("open xz: %w", err)
	}
	text, err := io.ReadAll(zr)
	if err != nil {
		return Entry{}, fmt.Errorf("read xz: %w", err)
	}
	if ContentHash(text) != e.TextHash {
		return Entry{}, errors.New("cached text hash mismatch")
	}
	e.Text = string(text)
	return e, nil
}

func (c *Cache) writeDisk(key string, e Entry) error {
	textPath, metaPath := c.paths(key)

	var buf bytes.Buffer
	zw, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("create xz writer: %w", err)
	}
	if _, err := io.WriteString(zw, e.Text); err != nil {
		return fmt.Errorf("compress render: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress render: %w", err)
	}
	if err := writeFileAtomic(textPath, buf.Bytes()); err != nil {
		return err
	}

	meta, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache meta: %w", err)
	}
	// Meta is written last so a reader never sees meta without text.
	return writeFileAtomic(metaPath, meta)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Purge removes a cached entry from both tiers.
func (c *Cache) Purge(id string) error {
	key := cacheKey(id)
	l := c.acquire(key)
	defer c.release(key, l)

	c.mem.Remove(key)
	if c.dir == "" {
		return nil
	}
	textPath, metaPath := c.paths(key)
	for _, p := range []string{metaPath, textPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("purge %s: %w", p, err)
		}
	}
	return nil
}
