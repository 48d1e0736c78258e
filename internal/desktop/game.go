// Package desktop hosts the simulation in an ebiten window. ebiten calls
// Update once per display refresh; each call is exactly one logical tick.
package desktop

import (
	"context"
	"errors"
	"image"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"steersim/engine/internal/input"
	"steersim/engine/internal/logging"
	"steersim/engine/internal/render"
	"steersim/engine/internal/simulation"
)

var keyBindings = map[ebiten.Key]string{
	ebiten.KeyW: input.KeyW,
	ebiten.KeyS: input.KeyS,
	ebiten.KeyA: input.KeyA,
	ebiten.KeyD: input.KeyD,
}

// Game adapts a simulation runner to ebiten.Game.
type Game struct {
	ctx     context.Context
	runner  *simulation.Runner
	monitor *simulation.TickMonitor
	palette render.Palette
	logger  *logging.Logger

	width, height int
	pointer       *pointerTracker
	held          map[string]bool
	white         *ebiten.Image
}

// NewGame binds runner to a window. The game stops when ctx is cancelled.
func NewGame(ctx context.Context, runner *simulation.Runner, monitor *simulation.TickMonitor, logger *logging.Logger) *Game {
	if logger == nil {
		logger = logging.L()
	}
	white := ebiten.NewImage(3, 3)
	white.Fill(color.White)
	return &Game{
		ctx:     ctx,
		runner:  runner,
		monitor: monitor,
		palette: render.DefaultPalette(),
		logger:  logger.With(logging.String("component", "desktop")),
		pointer: newPointerTracker(logger),
		held:    make(map[string]bool, len(keyBindings)),
		white:   white,
	}
}

// Update polls input and advances the simulation by one tick.
func (g *Game) Update() error {
	if g.ctx.Err() != nil {
		return ebiten.Termination
	}
	started := time.Now()

	//1.- Keyboard state replaces the held set wholesale each frame.
	for key, code := range keyBindings {
		g.held[code] = ebiten.IsKeyPressed(key)
	}
	if err := g.runner.Session().SetKeys(g.held); err != nil {
		return ebiten.Termination
	}

	//2.- Pointer gesture: press starts, drag accumulates, release or focus loss ends it.
	g.pointer.Poll(mouse{}, g.runner.Session())

	//3.- Exactly one step per refresh.
	g.runner.Advance()
	g.monitor.Observe(g.ctx, time.Since(started))
	return nil
}

// mouse reads the left mouse button and cursor through ebiten.
type mouse struct{}

func (mouse) CursorX() int {
	x, _ := ebiten.CursorPosition()
	return x
}
func (mouse) Focused() bool       { return ebiten.IsFocused() }
func (mouse) JustPressed() bool   { return inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) }
func (mouse) Pressed() bool       { return ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) }
func (mouse) JustReleased() bool  { return inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) }
func (mouse) PixelRatio() float64 { return deviceScale() }

// Draw renders the latest snapshot. Without a known canvas size there is
// nothing to draw and the frame is skipped.
func (g *Game) Draw(screen *ebiten.Image) {
	if g.width <= 0 || g.height <= 0 {
		return
	}
	snap := g.runner.Latest()
	tuning := g.runner.Integrator().Config().Tuning
	frame := render.BuildFrame(snap.Vehicle, tuning, float64(g.width))

	screen.Fill(g.palette.Background)
	track := frame.Gauge.Track
	vector.DrawFilledRect(screen, float32(track[0]), float32(track[1]), float32(track[2]), float32(track[3]), g.palette.Track, true)
	dot := frame.Gauge.Dot
	vector.DrawFilledCircle(screen, float32(dot.X()), float32(dot.Y()), float32(frame.Gauge.Radius), g.palette.DotColor(frame.Gauge), true)

	for _, poly := range frame.Polygons(g.palette) {
		g.fillQuad(screen, poly.Points, poly.Fill)
	}
}

func (g *Game) fillQuad(dst *ebiten.Image, quad render.Quad, fill color.Color) {
	var path vector.Path
	path.MoveTo(float32(quad[0].X()), float32(quad[0].Y()))
	for _, p := range quad[1:] {
		path.LineTo(float32(p.X()), float32(p.Y()))
	}
	path.Close()

	vertices, indices := path.AppendVerticesAndIndicesForFilling(nil, nil)
	r, gr, b, a := fill.RGBA()
	for i := range vertices {
		vertices[i].SrcX = 1
		vertices[i].SrcY = 1
		vertices[i].ColorR = float32(r) / 0xffff
		vertices[i].ColorG = float32(gr) / 0xffff
		vertices[i].ColorB = float32(b) / 0xffff
		vertices[i].ColorA = float32(a) / 0xffff
	}
	op := &ebiten.DrawTrianglesOptions{AntiAlias: true, FillRule: ebiten.FillRuleNonZero}
	dst.DrawTriangles(vertices, indices, g.white.SubImage(image.Rect(1, 1, 2, 2)).(*ebiten.Image), op)
}

// Layout follows the window size so the canvas always fills it.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.width || outsideHeight != g.height {
		g.logger.Debug("canvas resized", logging.Int("width", outsideWidth), logging.Int("height", outsideHeight))
	}
	g.width, g.height = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}

func deviceScale() float64 {
	if m := ebiten.Monitor(); m != nil {
		return m.DeviceScaleFactor()
	}
	return 1
}

// ReferenceWidth is the monitor width pointer drags are measured against.
func ReferenceWidth() float64 {
	w, _ := ebiten.ScreenSizeInFullscreen()
	if w <= 0 {
		return 1920
	}
	return float64(w)
}

// Run opens the window and blocks until it is closed or the game's context
// is cancelled.
func Run(game *Game, title string, width, height int) error {
	ebiten.SetWindowSize(width, height)
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowResizable(true)
	ebiten.SetTPS(ebiten.SyncWithFPS)
	err := ebiten.RunGame(game)
	if err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}
