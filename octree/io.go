package octree

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/ISWBenjaminKaiser/UFOMap/geometry"
)

const (
	fileMagic   = "# UFOMap octree file"
	fileVersion = "1.0.0"
)

// ErrUnsupported is returned when binary (tri-state) serialization is
// requested from a tree type that does not implement it.
var ErrUnsupported = errors.New("binary serialization is not supported by this tree type")

// ErrFormat is wrapped by all read failures caused by a malformed stream.
var ErrFormat = errors.New("malformed octree stream")

// WriteOptions control serialization.
type WriteOptions struct {
	// BoundingVolume, when non-empty, limits the output to intersecting
	// subtrees. A stream written with a volume must be read back with the
	// same volume.
	BoundingVolume geometry.BoundingVolume
	// Compress wraps the body in a single LZ4 block.
	Compress bool
	// Binary selects the compact tri-state encoding.
	Binary bool
	// MinDepth caps the depth serialized; subtrees below it are written as
	// their summaries.
	MinDepth uint
}

// ReadOptions control deserialization.
type ReadOptions struct {
	// BoundingVolume must match the volume the stream was written with.
	BoundingVolume geometry.BoundingVolume
}

// binarySupport reports whether the tree implements the compact tri-state
// encoding.
func (m *OccupancyMap) binarySupport() bool {
	return false
}

// Write serializes the tree to w: a line-oriented text header followed by
// the recursive binary body. The tree itself is never modified; a failure
// can leave a partial stream behind.
func (m *OccupancyMap) Write(w io.Writer, opts WriteOptions) error {
	if opts.Binary && !m.binarySupport() {
		return ErrUnsupported
	}

	var body bytes.Buffer
	if opts.Binary {
		if err := m.writeBinaryNodes(&body, opts.BoundingVolume, opts.MinDepth); err != nil {
			return err
		}
	} else if err := m.writeNodes(&body, opts.BoundingVolume, opts.MinDepth); err != nil {
		return err
	}
	uncompressedSize := body.Len()

	data := body.Bytes()
	if opts.Compress {
		compressed, err := compressBlock(data)
		if err != nil {
			return err
		}
		data = compressed
	}

	var header bytes.Buffer
	fmt.Fprintf(&header, "%s\n", fileMagic)
	fmt.Fprintf(&header, "# (feel free to add / change comments, but leave the first line as it is!)\n#\n")
	fmt.Fprintf(&header, "version %s\n", fileVersion)
	fmt.Fprintf(&header, "id %s\n", m.TreeType())
	fmt.Fprintf(&header, "binary %d\n", boolTo01(opts.Binary))
	fmt.Fprintf(&header, "resolution %v\n", m.resolution)
	fmt.Fprintf(&header, "depth_levels %d\n", m.depthLevels)
	fmt.Fprintf(&header, "occupancy_thres %v\n", m.OccupancyThres())
	fmt.Fprintf(&header, "free_thres %v\n", m.FreeThres())
	fmt.Fprintf(&header, "compressed %d\n", boolTo01(opts.Compress))
	fmt.Fprintf(&header, "uncompressed_data_size %d\n", uncompressedSize)
	fmt.Fprintf(&header, "data\n")

	if _, err := w.Write(header.Bytes()); err != nil {
		return errors.Wrap(err, "writing header")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "writing body")
	}
	return nil
}

// WriteFile serializes the tree to the named file.
func (m *OccupancyMap) WriteFile(path string, opts WriteOptions) (err error) {
	//nolint:gosec // the path is chosen by the caller
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return m.Write(f, opts)
}

// fileHeader is the parsed text header of a stream.
type fileHeader struct {
	version              string
	id                   string
	binary               bool
	resolution           float64
	depthLevels          uint
	occupancyThres       float64
	freeThres            float64
	compressed           bool
	uncompressedDataSize int
}

// Read replaces or merges the tree's content with a stream produced by
// Write. On any failure the tree is left exactly as it was.
func (m *OccupancyMap) Read(r io.Reader, opts ReadOptions) error {
	br := bufio.NewReader(r)

	header, err := m.readHeader(br)
	if err != nil {
		return err
	}
	if header.binary && !m.binarySupport() {
		return ErrUnsupported
	}
	if header.id != m.TreeType() {
		return errors.Wrapf(ErrFormat, "stream id %q does not match tree type %q", header.id, m.TreeType())
	}
	if header.depthLevels < minDepthLevels || header.depthLevels > maxDepthLevels {
		return errors.Wrapf(ErrFormat, "depth_levels %d outside [%d, %d]",
			header.depthLevels, minDepthLevels, maxDepthLevels)
	}

	body := io.Reader(br)
	if header.compressed {
		compressed, err := io.ReadAll(br)
		if err != nil {
			return errors.Wrap(err, "reading compressed body")
		}
		uncompressed, err := decompressBlock(compressed, header.uncompressedDataSize)
		if err != nil {
			return err
		}
		body = bytes.NewReader(uncompressed)
	}

	// Decode against a snapshot so a truncated body cannot leave the tree
	// half written.
	snapshot := m.snapshotState()
	if m.resolution != header.resolution || m.depthLevels != header.depthLevels {
		if err := m.ClearWith(header.resolution, header.depthLevels); err != nil {
			return errors.Wrapf(ErrFormat, "%v", err)
		}
	}
	if err := m.readNodes(body, opts.BoundingVolume); err != nil {
		m.restoreState(snapshot)
		return err
	}
	return nil
}

// ReadFile replaces or merges the tree's content with the named file.
func (m *OccupancyMap) ReadFile(path string, opts ReadOptions) error {
	//nolint:gosec // the path is chosen by the caller
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return m.Read(f, opts)
}

// treeState is everything Read can mutate, captured for rollback.
type treeState struct {
	root              innerNode
	resolution        float64
	depthLevels       uint
	numInnerNodes     int
	numInnerLeafNodes int
	numLeafNodes      int
}

func (m *OccupancyMap) snapshotState() treeState {
	return treeState{
		root:              *copyInner(&m.root),
		resolution:        m.resolution,
		depthLevels:       m.depthLevels,
		numInnerNodes:     m.numInnerNodes,
		numInnerLeafNodes: m.numInnerLeafNodes,
		numLeafNodes:      m.numLeafNodes,
	}
}

func (m *OccupancyMap) restoreState(s treeState) {
	m.root = s.root
	m.setGeometry(s.resolution, s.depthLevels)
	m.numInnerNodes = s.numInnerNodes
	m.numInnerLeafNodes = s.numInnerLeafNodes
	m.numLeafNodes = s.numLeafNodes
}

// copyInner deep copies a subtree.
func copyInner(node *innerNode) *innerNode {
	cp := *node
	if node.leafChildren != nil {
		block := *node.leafChildren
		cp.leafChildren = &block
	}
	if node.innerChildren != nil {
		block := new([8]innerNode)
		for i := range node.innerChildren {
			block[i] = *copyInner(&node.innerChildren[i])
		}
		cp.innerChildren = block
	}
	return &cp
}

// readHeader parses the text header up to and including the data token.
// Tokens may appear in any order; comment lines start with '#'.
func (m *OccupancyMap) readHeader(br *bufio.Reader) (fileHeader, error) {
	header := fileHeader{
		occupancyThres:       -1,
		freeThres:            -1,
		uncompressedDataSize: -1,
	}

	first, err := br.ReadString('\n')
	if err != nil {
		return header, errors.Wrap(ErrFormat, "missing magic line")
	}
	if !strings.HasPrefix(first, fileMagic) {
		return header, errors.Wrapf(ErrFormat, "bad magic line %q", strings.TrimSuffix(first, "\n"))
	}

	sawData := false
	for !sawData {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return header, errors.Wrap(ErrFormat, "header ended before data token")
		}
		line = strings.TrimSuffix(line, "\n")
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		token := fields[0]
		value := ""
		if len(fields) > 1 {
			value = fields[1]
		}

		var perr error
		switch token {
		case "data":
			sawData = true
		case "version":
			header.version = value
		case "id":
			header.id = value
		case "binary":
			header.binary, perr = parse01(value)
		case "resolution":
			header.resolution, perr = strconv.ParseFloat(value, 64)
		case "depth_levels":
			var v uint64
			v, perr = strconv.ParseUint(value, 10, 32)
			header.depthLevels = uint(v)
		case "occupancy_thres":
			header.occupancyThres, perr = strconv.ParseFloat(value, 64)
		case "free_thres":
			header.freeThres, perr = strconv.ParseFloat(value, 64)
		case "compressed":
			header.compressed, perr = parse01(value)
		case "uncompressed_data_size":
			header.uncompressedDataSize, perr = strconv.Atoi(value)
		default:
			m.logger.Debugf("skipping unknown header token %q", token)
		}
		if perr != nil {
			return header, errors.Wrapf(ErrFormat, "token %q: bad value %q", token, value)
		}
	}

	switch {
	case header.version == "":
		return header, errors.Wrap(ErrFormat, "missing version")
	case header.id == "":
		return header, errors.Wrap(ErrFormat, "missing id")
	case header.resolution <= 0:
		return header, errors.Wrapf(ErrFormat, "resolution %v must be positive", header.resolution)
	case header.depthLevels == 0:
		return header, errors.Wrap(ErrFormat, "missing depth_levels")
	case header.occupancyThres < 0:
		return header, errors.Wrap(ErrFormat, "missing occupancy_thres")
	case header.freeThres < 0:
		return header, errors.Wrap(ErrFormat, "missing free_thres")
	case header.uncompressedDataSize < 0:
		return header, errors.Wrap(ErrFormat, "missing uncompressed_data_size")
	}
	return header, nil
}

func parse01(value string) (bool, error) {
	switch value {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, errors.Errorf("expected 0 or 1, got %q", value)
}

func boolTo01(b bool) int {
	if b {
		return 1
	}
	return 0
}

//
// Binary body
//

// writeNodes emits the recursive body: one bitmask byte per inner node
// marking which children have further structure, then either the node's
// own payload (mask 0) or its children in Morton order.
func (m *OccupancyMap) writeNodes(w io.Writer, bv geometry.BoundingVolume, minDepth uint) error {
	center := r3.Vector{}
	if !bv.Empty() && !bv.Intersects(geometry.NewAABBFromCenter(center, m.NodeHalfSize(m.depthLevels))) {
		return nil
	}

	var childrenByte byte
	if m.root.hasChildren() && m.depthLevels > minDepth {
		childrenByte = 0xFF
	}
	if _, err := w.Write([]byte{childrenByte}); err != nil {
		return errors.Wrap(err, "writing node mask")
	}
	if childrenByte == 0 {
		return m.root.leafNode.writeData(w)
	}
	return m.writeNodesRecurs(w, bv, &m.root, center, m.depthLevels, minDepth)
}

func (m *OccupancyMap) writeNodesRecurs(
	w io.Writer,
	bv geometry.BoundingVolume,
	node *innerNode,
	center r3.Vector,
	depth, minDepth uint,
) error {
	childDepth := depth - 1
	childHalfSize := m.NodeHalfSize(childDepth)

	var childrenBits byte
	var intersects [8]bool
	var centers [8]r3.Vector
	for i := uint(0); i < 8; i++ {
		centers[i] = childCenter(center, childHalfSize, i)
		intersects[i] = bv.Empty() || bv.Intersects(geometry.NewAABBFromCenter(centers[i], childHalfSize))
		if intersects[i] && childDepth > minDepth && node.innerChildren[i].hasChildren() {
			childrenBits |= 1 << i
		}
	}
	if _, err := w.Write([]byte{childrenBits}); err != nil {
		return errors.Wrap(err, "writing node mask")
	}

	for i := uint(0); i < 8; i++ {
		if !intersects[i] {
			continue
		}
		child := &node.innerChildren[i]
		if childrenBits&(1<<i) == 0 {
			if err := child.leafNode.writeData(w); err != nil {
				return err
			}
			continue
		}
		if childDepth == 1 {
			grandHalfSize := m.NodeHalfSize(0)
			for j := uint(0); j < 8; j++ {
				if bv.Empty() || bv.Intersects(geometry.NewAABBFromCenter(childCenter(centers[i], grandHalfSize, j), grandHalfSize)) {
					if err := child.leafChildren[j].writeData(w); err != nil {
						return err
					}
				}
			}
		} else if err := m.writeNodesRecurs(w, bv, child, centers[i], childDepth, minDepth); err != nil {
			return err
		}
	}
	return nil
}

// readNodes consumes the recursive body, mirroring writeNodes.
func (m *OccupancyMap) readNodes(r io.Reader, bv geometry.BoundingVolume) error {
	center := r3.Vector{}
	if !bv.Empty() && !bv.Intersects(geometry.NewAABBFromCenter(center, m.NodeHalfSize(m.depthLevels))) {
		return nil
	}

	childrenByte, err := readByte(r)
	if err != nil {
		return err
	}
	if childrenByte == 0 {
		if err := m.root.leafNode.readData(r); err != nil {
			return errors.Wrapf(ErrFormat, "truncated body: %v", err)
		}
		m.prune(&m.root, m.depthLevels, false)
		return nil
	}
	if err := m.readNodesRecurs(r, bv, &m.root, center, m.depthLevels); err != nil {
		return err
	}
	m.updateNode(&m.root, m.depthLevels, false)
	return nil
}

func (m *OccupancyMap) readNodesRecurs(
	r io.Reader,
	bv geometry.BoundingVolume,
	node *innerNode,
	center r3.Vector,
	depth uint,
) error {
	childDepth := depth - 1
	childHalfSize := m.NodeHalfSize(childDepth)

	childrenBits, err := readByte(r)
	if err != nil {
		return err
	}

	m.expand(node, depth)

	for i := uint(0); i < 8; i++ {
		childCtr := childCenter(center, childHalfSize, i)
		if !bv.Empty() && !bv.Intersects(geometry.NewAABBFromCenter(childCtr, childHalfSize)) {
			continue
		}
		child := &node.innerChildren[i]
		if childrenBits&(1<<i) == 0 {
			if err := child.leafNode.readData(r); err != nil {
				return errors.Wrapf(ErrFormat, "truncated body: %v", err)
			}
			m.prune(child, childDepth, false)
			continue
		}
		if childDepth == 1 {
			grandHalfSize := m.NodeHalfSize(0)
			m.expand(child, childDepth)
			for j := uint(0); j < 8; j++ {
				if bv.Empty() || bv.Intersects(geometry.NewAABBFromCenter(childCenter(childCtr, grandHalfSize, j), grandHalfSize)) {
					if err := child.leafChildren[j].readData(r); err != nil {
						return errors.Wrapf(ErrFormat, "truncated body: %v", err)
					}
				}
			}
		} else if err := m.readNodesRecurs(r, bv, child, childCtr, childDepth); err != nil {
			return err
		}
		m.updateNode(child, childDepth, false)
	}
	return nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrapf(ErrFormat, "truncated body: %v", err)
	}
	return b[0], nil
}

// writeBinaryNodes is the hook for the compact tri-state encoding.
func (m *OccupancyMap) writeBinaryNodes(io.Writer, geometry.BoundingVolume, uint) error {
	return ErrUnsupported
}
