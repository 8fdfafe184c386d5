package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/presenca/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/presenca/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/presenca/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/presenca/internal/camera"
	"github.com/saturnino-fabrica-de-software/presenca/internal/config"
	"github.com/saturnino-fabrica-de-software/presenca/internal/hub"
	"github.com/saturnino-fabrica-de-software/presenca/internal/index"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/presence"
	"github.com/saturnino-fabrica-de-software/presenca/internal/provider"
	"github.com/saturnino-fabrica-de-software/presenca/internal/repository"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
	"github.com/saturnino-fabrica-de-software/presenca/internal/storage"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

// Dependencies são os colaboradores externos que o Router não constrói:
// tudo que toca rede, disco ou processo fica a cargo do cmd/api.
type Dependencies struct {
	Config       *config.Config
	DB           *pgxpool.Pool
	FaceProvider provider.FaceProvider
	Index        *index.Index
	ImageStore   *storage.ImageStore
	Metrics      *metrics.Metrics
	Location     *time.Location

	// SourceFactory permite injetar fontes de quadros sintéticas; nil usa
	// a fonte ffmpeg de produção.
	SourceFactory camera.SourceFactory
}

// Router monta a aplicação fiber e é dono do ciclo de vida dos componentes
// de fundo (tracker de presença e workers de câmera).
type Router struct {
	app    *fiber.App
	logger *slog.Logger
	deps   *Dependencies

	hub        *hub.Hub
	tracker    *presence.Tracker
	manager    *camera.Manager
	enrollment *service.EnrollmentService

	cancelTracker context.CancelFunc
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Presença API",
		BodyLimit:    32 * 1024 * 1024,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	cfg := r.deps.Config

	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	healthHandler := handler.NewHealthHandler(r.deps.DB)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)
	r.app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(r.deps.Metrics.Registry(), promhttp.HandlerOpts{})))

	// repositórios
	students := repository.NewStudentRepository(r.deps.DB)
	images := repository.NewStudentImageRepository(r.deps.DB)
	attendance := repository.NewAttendanceRepository(r.deps.DB)
	rooms := repository.NewRoomRepository(r.deps.DB)
	cameras := repository.NewCameraRepository(r.deps.DB)

	// hub e tracker de presença
	r.hub = hub.New(r.logger, r.deps.Metrics, cfg.SubscriberQueue)
	r.tracker = presence.NewTracker(r.logger, r.hub, r.deps.Metrics,
		cfg.PresenceTTL, cfg.EvictionPeriod)

	trackerCtx, cancelTracker := context.WithCancel(context.Background())
	r.cancelTracker = cancelTracker
	go r.tracker.Run(trackerCtx)

	// serviços
	r.enrollment = service.NewEnrollmentService(r.logger, r.deps.FaceProvider,
		r.deps.Index, students, images, r.deps.ImageStore, service.EnrollmentConfig{
			QualityMin:   float32(cfg.QualityMin),
			MinFaceArea:  cfg.MinFaceArea,
			MaxImages:    cfg.MaxImagesPerStudent,
			ImageTimeout: cfg.ImageProcessingTimeout,
			SnapshotDir:  cfg.IndexPath,
		})

	recognizer := service.NewRecognizer(r.logger, r.deps.FaceProvider,
		r.deps.Index, r.deps.Metrics, service.RecognizerConfig{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			QualityMin:          float32(cfg.QualityMinRecognize),
			MinFaceArea:         cfg.MinFaceArea,
		})

	attendanceService := service.NewAttendanceService(r.logger, attendance,
		r.deps.ImageStore, r.deps.Metrics, service.AttendanceConfig{
			AttendanceMin: cfg.AttendanceMin,
			Location:      r.deps.Location,
		})

	// workers de câmera
	factory := r.deps.SourceFactory
	if factory == nil {
		factory = camera.FFmpegFactory(int(cfg.StreamMaxHz))
	}
	r.manager = camera.NewManager(r.logger, cameras, rooms, students, factory,
		recognizer, attendanceService, r.tracker, r.hub, r.deps.Metrics,
		camera.ManagerConfig{
			Worker: camera.WorkerConfig{
				RecognitionHz:         int(cfg.RecognitionHz),
				StreamMaxHz:           int(cfg.StreamMaxHz),
				EventCooldown:         cfg.EventCooldown,
				ConnectTimeout:        cfg.ConnectTimeout,
				PersistenceFailWindow: cfg.PersistenceFailWindow,
			},
			MaxStreams:    cfg.MaxStreams,
			ShutdownGrace: cfg.ShutdownGrace,
		})

	// handlers HTTP
	studentHandler := handler.NewStudentHandler(r.enrollment, attendanceService, students, r.tracker, r.logger)
	attendanceHandler := handler.NewAttendanceHandler(recognizer, attendanceService, students, r.logger)
	roomHandler := handler.NewRoomHandler(rooms, cameras, students, r.manager, r.tracker, r.logger)

	v1 := r.app.Group("/v1")

	v1.Post("/students/register", studentHandler.Create)
	v1.Get("/students", studentHandler.List)
	v1.Get("/students/:student_id", studentHandler.Get)
	v1.Delete("/students/:student_id", studentHandler.Delete)
	v1.Post("/students/:student_id/upload-images", studentHandler.AddImages)
	v1.Get("/students/:student_id/attendance", studentHandler.Attendance)

	v1.Post("/attendance/check-in", attendanceHandler.CheckIn)
	v1.Get("/attendance/today", attendanceHandler.Today)
	v1.Get("/attendance/statistics", attendanceHandler.Statistics)
	v1.Get("/attendance/student/:student_id", attendanceHandler.StudentHistory)
	v1.Get("/attendance", attendanceHandler.ByDate)

	v1.Post("/rooms", roomHandler.CreateRoom)
	v1.Get("/rooms", roomHandler.ListRooms)
	// rotas fixas antes de /rooms/:room_id para o fiber não capturar
	// "presence" como id
	v1.Get("/rooms/presence/all", roomHandler.AllPresence)
	v1.Get("/rooms/presence/stats", roomHandler.PresenceStats)
	v1.Get("/rooms/presence/student/:student_id", roomHandler.StudentPresence)
	v1.Get("/rooms/:room_id", roomHandler.GetRoom)
	v1.Put("/rooms/:room_id", roomHandler.UpdateRoom)
	v1.Delete("/rooms/:room_id", roomHandler.DeleteRoom)
	v1.Get("/rooms/:room_id/presence", roomHandler.RoomPresence)
	v1.Post("/rooms/:room_id/cameras", roomHandler.CreateCamera)
	v1.Get("/rooms/:room_id/cameras", roomHandler.ListCameras)
	v1.Put("/rooms/:room_id/cameras/:camera_id", roomHandler.UpdateCamera)
	v1.Delete("/rooms/:room_id/cameras/:camera_id", roomHandler.DeleteCamera)
	v1.Post("/rooms/:room_id/cameras/:camera_id/start", roomHandler.StartCamera)
	v1.Post("/rooms/:room_id/cameras/:camera_id/stop", roomHandler.StopCamera)
	v1.Post("/rooms/:room_id/start-all", roomHandler.StartAll)
	v1.Post("/rooms/:room_id/stop-all", roomHandler.StopAll)

	// WebSocket
	wsGroup := r.app.Group("/ws", ws.Upgrade())
	wsGroup.Get("/cameras/:camera_id/stream", ws.CameraStream(r.hub, r.manager, r.logger))
	wsGroup.Get("/rooms/all/presence", ws.AllPresence(r.hub, r.tracker, cfg.RefreshPeriod, r.logger))
	wsGroup.Get("/rooms/:room_id/presence", ws.RoomPresence(r.hub, r.tracker, r.logger))
}

// Enrollment expõe o serviço de cadastro para o boot (warm do índice).
func (r *Router) Enrollment() *service.EnrollmentService {
	return r.enrollment
}

// Tracker expõe o tracker para registro de nomes de salas no boot.
func (r *Router) Tracker() *presence.Tracker {
	return r.tracker
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

// Shutdown derruba workers, tracker e o servidor HTTP, nessa ordem: sem
// workers não há novos eventos, então o hub esvazia sozinho.
func (r *Router) Shutdown() error {
	if r.manager != nil {
		r.manager.Shutdown()
	}
	if r.cancelTracker != nil {
		r.cancelTracker()
	}
	return r.app.Shutdown()
}
