package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

const (
	serviceScript = "face_mesh_service.py"
	idleShutdown  = 30 * time.Second
)

var errServiceNotFound = errors.New(serviceScript + " not found")

// FaceMeshService is a Detector backed by the Python face mesh in
// scripts/face_mesh_service.py. The interpreter is launched on the first
// frame and exits after idleShutdown without one.
type FaceMeshService struct {
	config Config
	script string

	mu       sync.Mutex
	proc     *meshProcess
	lastUsed time.Time
	idle     *time.Timer
}

// NewFaceMeshService locates the service script. It fails if the script is
// not installed.
func NewFaceMeshService(config Config) (*FaceMeshService, error) {
	script := serviceScriptPath()
	if script == "" {
		return nil, errServiceNotFound
	}
	return &FaceMeshService{config: config, script: script}, nil
}

// Detect sends frame to the service and waits for its landmarks.
func (s *FaceMeshService) Detect(frame *gocv.Mat) ([]FaceLandmarks, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		if s.proc, err = startMeshProcess(s.script, s.config.args()); err != nil {
			return nil, err
		}
	}

	faces, err := s.proc.roundTrip(buf.GetBytes())
	if err != nil {
		// A broken pipe means the interpreter died; the next frame starts a new one.
		if stopErr := s.stopLocked(); stopErr != nil {
			log.Debug().Err(stopErr).Msg("face mesh service exited")
		}
		return nil, err
	}

	s.lastUsed = time.Now()
	s.armIdle()
	return faces, nil
}

// Close stops the interpreter if it is running.
func (s *FaceMeshService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *FaceMeshService) stopLocked() error {
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.proc == nil {
		return nil
	}
	p := s.proc
	s.proc = nil
	return p.stop()
}

func (s *FaceMeshService) armIdle() {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = time.AfterFunc(idleShutdown, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if time.Since(s.lastUsed) < idleShutdown {
			return
		}
		if err := s.stopLocked(); err != nil {
			log.Warn().Err(err).Msg("face mesh service exited with error")
		}
	})
}

// meshProcess is one running interpreter.
type meshProcess struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader
}

func startMeshProcess(script string, args []string) (*meshProcess, error) {
	python := pythonPath()
	cmd := exec.Command(python, append([]string{script}, args...)...)
	cmd.Stderr = os.Stderr

	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("face mesh stdin: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("face mesh stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start face mesh service: %w", err)
	}

	log.Debug().Str("script", script).Str("python", python).Msg("face mesh service started")
	return &meshProcess{cmd: cmd, in: in, out: bufio.NewReader(out)}, nil
}

func (p *meshProcess) roundTrip(jpeg []byte) ([]FaceLandmarks, error) {
	if err := writeFrame(p.in, jpeg); err != nil {
		return nil, err
	}
	return readFaces(p.out)
}

func (p *meshProcess) stop() error {
	p.in.Close()
	err := p.cmd.Wait()
	log.Debug().Msg("face mesh service stopped")
	return err
}

// writeFrame sends one JPEG as a 4-byte big-endian length followed by the
// image bytes.
func writeFrame(w io.Writer, jpeg []byte) error {
	msg := make([]byte, 4+len(jpeg))
	binary.BigEndian.PutUint32(msg, uint32(len(jpeg)))
	copy(msg[4:], jpeg)

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// meshFace is one face in a service reply. Points are in mesh order.
type meshFace struct {
	Points []Point3D `json:"points"`
	Score  float64   `json:"score"`
}

// readFaces reads one JSON line of the form {"faces": [...]}.
func readFaces(r *bufio.Reader) ([]FaceLandmarks, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read faces: %w", err)
	}

	var reply struct {
		Faces []meshFace `json:"faces"`
	}
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, fmt.Errorf("decode faces: %w", err)
	}

	faces := make([]FaceLandmarks, 0, len(reply.Faces))
	for _, f := range reply.Faces {
		lm := FaceLandmarks{Points: make(map[int]Point3D, len(f.Points)), Score: f.Score}
		for i, p := range f.Points {
			lm.Points[i] = p
		}
		faces = append(faces, lm)
	}
	return faces, nil
}

// args renders the config as flags of the service script.
func (c Config) args() []string {
	return []string{
		"--max-faces", strconv.Itoa(c.MaxFaces),
		"--refine-landmarks", strconv.FormatBool(c.RefineLandmarks),
		"--min-detection-confidence", strconv.FormatFloat(c.MinDetectionConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(c.MinTrackingConfidence, 'f', -1, 64),
	}
}

// installDirs lists where scripts/ and venv/ are looked up, in order: the
// working directory, its parent, next to the binary, then ~/.blowout.
func installDirs() []string {
	dirs := []string{".", ".."}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".blowout"))
	}
	return dirs
}

// lookup returns the first existing dir/rel as an absolute path, or "".
func lookup(rel string) string {
	for _, dir := range installDirs() {
		path := filepath.Join(dir, rel)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return ""
}

func serviceScriptPath() string {
	return lookup(filepath.Join("scripts", serviceScript))
}

// pythonPath prefers a virtualenv interpreter over python3 on PATH.
func pythonPath() string {
	if p := lookup(filepath.Join("venv", "bin", "python")); p != "" {
		return p
	}
	return "python3"
}
