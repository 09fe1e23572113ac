package chrome

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Process is one launched Chrome with its DevTools debugging port.
type Process struct {
	cmd     *exec.Cmd
	dataDir string
	Key     string
	Port    int
	PID     int
}

// DebugURL is the DevTools HTTP endpoint a remote allocator attaches to.
func (p *Process) DebugURL() string {
	return fmt.Sprintf("http://localhost:%d", p.Port)
}

// Manager owns the Chrome processes behind recording and replay tabs.
// Recording sessions share one headful authoring instance (each session is
// a tab in it); every replay gets its own process. ChromeDP v0.9.2 trips
// over concurrent allocators on one process, so replays stay isolated.
type Manager struct {
	mu        sync.Mutex
	processes map[string]*Process
	authoring *Process
}

var GlobalManager = &Manager{
	processes: make(map[string]*Process),
}

var (
	portMin  = 9222
	portMax  = 9322
	dataRoot = "/tmp/tourflow-chrome"
)

// Configure overrides the debugging port range and profile directory root.
// Call before the first launch.
func Configure(minPort, maxPort int, dir string) {
	if minPort > 0 && maxPort >= minPort {
		portMin, portMax = minPort, maxPort
	}
	if dir != "" {
		dataRoot = dir
	}
}

// Launch starts a Chrome process for key. When targetURL is given Chrome
// opens it as the first tab, so attaching to that tab skips the blank page.
func (m *Manager) Launch(key string, vp ViewportPreset, headful bool, targetURL string) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launchLocked(key, vp, headful, targetURL)
}

func (m *Manager) launchLocked(key string, vp ViewportPreset, headful bool, targetURL string) (*Process, error) {
	if _, exists := m.processes[key]; exists {
		return nil, fmt.Errorf("chrome process %s already running", key)
	}

	port := m.findAvailablePortLocked()
	if port == 0 {
		return nil, fmt.Errorf("no available debugging port")
	}

	chromePath := GetChromePath()
	if chromePath == "" {
		return nil, fmt.Errorf("chrome browser not found, install Google Chrome or Chromium")
	}

	dataDir := fmt.Sprintf("%s-%s", dataRoot, key)
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-extensions",
		"--disable-background-networking",
		"--disable-component-update",
		"--disable-sync",
		"--disable-features=TranslateUI",
		"--disable-blink-features=AutomationControlled",
	}
	args = append(args, vp.Args()...)
	if !headful {
		args = append(args, "--headless=new")
	}
	if targetURL != "" {
		args = append(args, targetURL)
	}

	log.Printf("🚀 Starting Chrome %s on port %d (headful=%t, viewport=%s)", key, port, headful, vp.Name)
	cmd := exec.Command(chromePath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	p := &Process{
		cmd:     cmd,
		dataDir: dataDir,
		Key:     key,
		Port:    port,
		PID:     cmd.Process.Pid,
	}
	m.processes[key] = p

	if err := waitForReady(port, 15*time.Second); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		delete(m.processes, key)
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("chrome did not become ready: %w", err)
	}

	log.Printf("✅ Chrome %s ready (PID %d, port %d)", key, p.PID, port)
	return p, nil
}

// AcquireAuthoring returns the shared headful instance recording tabs live
// in, launching it on first use. The second return reports whether an
// existing instance was reused; a reused browser needs a fresh tab, a new
// one already shows targetURL in its first tab.
func (m *Manager) AcquireAuthoring(vp ViewportPreset, targetURL string) (*Process, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.authoring != nil {
		if isPortResponsive(m.authoring.Port) {
			log.Printf("🔄 Reusing authoring Chrome on port %d", m.authoring.Port)
			return m.authoring, true, nil
		}
		log.Printf("🧹 Authoring Chrome on port %d is gone, launching a new one", m.authoring.Port)
		m.stopLocked(m.authoring.Key)
		m.authoring = nil
	}

	p, err := m.launchLocked("authoring", vp, true, targetURL)
	if err != nil {
		return nil, false, err
	}
	m.authoring = p
	return p, false, nil
}

// Stop terminates the process for key. The authoring instance is kept
// alive for the next recording session; use StopAuthoring or CleanupAll to
// really close it.
func (m *Manager) Stop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authoring != nil && m.authoring.Key == key {
		log.Printf("🔄 Keeping authoring Chrome alive (PID %d)", m.authoring.PID)
		return
	}
	m.stopLocked(key)
}

func (m *Manager) stopLocked(key string) {
	p, exists := m.processes[key]
	if !exists {
		return
	}
	log.Printf("🛑 Stopping Chrome %s (PID %d)", key, p.PID)

	if p.cmd.Process != nil {
		// SIGTERM lets Chrome flush its profile; kill after a grace period.
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			p.cmd.Process.Kill()
			p.cmd.Wait()
		} else {
			done := make(chan error, 1)
			go func() { done <- p.cmd.Wait() }()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				log.Printf("🔨 Chrome %s ignored SIGTERM, killing PID %d", key, p.PID)
				p.cmd.Process.Kill()
				<-done
			}
		}
	}

	if err := os.RemoveAll(p.dataDir); err != nil {
		log.Printf("⚠️ Failed to remove %s: %v", p.dataDir, err)
	}
	delete(m.processes, key)
}

// StopAuthoring closes the shared authoring instance.
func (m *Manager) StopAuthoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authoring == nil {
		return
	}
	key := m.authoring.Key
	m.authoring = nil
	m.stopLocked(key)
}

// CleanupAll stops every Chrome process, for service shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.processes) == 0 {
		return
	}
	log.Printf("🧹 Cleaning up %d Chrome process(es)", len(m.processes))
	m.authoring = nil
	for key := range m.processes {
		m.stopLocked(key)
	}
}

func (m *Manager) findAvailablePortLocked() int {
	used := make(map[int]bool)
	for _, p := range m.processes {
		used[p.Port] = true
	}
	for port := portMin; port <= portMax; port++ {
		if !used[port] {
			return port
		}
	}
	return 0
}

// waitForReady polls the DevTools endpoint until Chrome answers.
func waitForReady(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://localhost:%d/json/version", port)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("devtools endpoint on port %d not ready within %v", port, timeout)
}

func isPortResponsive(port int) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/json/version", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
