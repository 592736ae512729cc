package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jszwec/csvutil"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mehulvb/rera-finder/internal/auth"
	"github.com/mehulvb/rera-finder/internal/db"
	"github.com/mehulvb/rera-finder/internal/ingest"
	"github.com/mehulvb/rera-finder/internal/models"
)

const maxUploadBytes = 16 * 1024 * 1024

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	Registry    *ingest.Registry

	// Only one ingestion run at a time; the portal rate limits hard enough
	// that concurrent runs just starve each other.
	jobMu      sync.Mutex
	runningJob *ingestJob
}

type ingestJob struct {
	RunID     uuid.UUID
	Scope     string
	StartedAt time.Time
	Cancel    context.CancelFunc
	Done      bool
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(pool *pgxpool.Pool, registry *ingest.Registry) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		DB:          pool,
		Store:       db.NewStore(pool),
		AuthService: auth.NewService(pool),
		Echo:        e,
		Registry:    registry,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/projects", s.handleListProjects)
	api.GET("/projects/:id", s.handleGetProject)
	api.GET("/projects/registration/:registration_id", s.handleGetByRegistration)
	api.GET("/stats", s.handleGetStats)
	api.GET("/ingestion/status/:run_id", s.handleIngestionStatus)
	api.GET("/ingestion/runs", s.handleListRuns)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/ingestion/trigger", s.handleTriggerIngestion)
	admin.POST("/admin/projects", s.handleCreateProject)
	admin.POST("/admin/upload", s.handleBulkUpload)
	admin.DELETE("/admin/projects", s.handleClearProjects)

	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	watchlist := api.Group("/watchlist")
	watchlist.Use(auth.Middleware)
	watchlist.POST("/:id", s.handleWatchProject)
	watchlist.DELETE("/:id", s.handleUnwatchProject)
	watchlist.GET("", s.handleGetWatchlist)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{"success": true, "data": data}
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": msg}
}

func (s *Server) handleListProjects(c echo.Context) error {
	page := 1
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}

	params := db.ListParams{
		City:       c.QueryParam("city"),
		Status:     c.QueryParam("status"),
		Type:       c.QueryParam("type"),
		Query:      c.QueryParam("q"),
		Provenance: c.QueryParam("provenance"),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_area"), 64); err == nil && v > 0 {
		params.MinArea = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("max_area"), 64); err == nil && v > 0 {
		params.MaxArea = v
	}

	result, err := s.Store.ListProjects(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list projects: %v", err)
		return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error"))
	}

	totalPages := (result.Total + limit - 1) / limit
	return c.JSON(http.StatusOK, envelope(map[string]interface{}{
		"projects": result.Projects,
		"pagination": map[string]interface{}{
			"page":        page,
			"limit":       limit,
			"total":       result.Total,
			"total_pages": totalPages,
		},
	}))
}

func (s *Server) handleGetProject(c echo.Context) error {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid project ID"))
	}
	project, err := s.Store.GetProject(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody("Not found"))
	}
	return c.JSON(http.StatusOK, envelope(project))
}

func (s *Server) handleGetByRegistration(c echo.Context) error {
	regID := c.Param("registration_id")
	project, err := s.Store.FindByRegistrationID(c.Request().Context(), regID)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody("Not found"))
	}
	return c.JSON(http.StatusOK, envelope(project))
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, envelope(stats))
}

func (s *Server) handleTriggerIngestion(c echo.Context) error {
	source, err := s.Registry.ActiveSource()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	target := ingest.Target{
		City:         strings.TrimSpace(c.QueryParam("city")),
		AllDistricts: c.QueryParam("all_districts") == "true",
	}

	s.jobMu.Lock()
	if s.runningJob != nil && !s.runningJob.Done {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, errorBody(
			fmt.Sprintf("an ingestion run is already in progress: %s", job.RunID)))
	}

	// Detach from the HTTP request but keep a ceiling on runtime.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 60*time.Minute,
	)

	runID := uuid.New()
	job := &ingestJob{
		RunID:     runID,
		Scope:     target.City,
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		pipeline := ingest.NewPipeline(s.Store, s.Store, source)

		result, err := pipeline.RunWithID(jobCtx, target, runID)
		s.jobMu.Lock()
		job.Done = true
		s.jobMu.Unlock()
		if err != nil {
			log.Printf("[api] ingestion run %s failed: %v", runID, err)
			return
		}
		log.Printf("[api] ingestion run %s finished: %s via %s", runID, result.State, result.StrategyUsed)
	}()

	return c.JSON(http.StatusAccepted, envelope(map[string]interface{}{
		"run_id": runID,
		"poll":   fmt.Sprintf("/api/v1/ingestion/status/%s", runID),
	}))
}

func (s *Server) handleIngestionStatus(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid run ID"))
	}

	run, err := s.Store.GetRun(c.Request().Context(), runID)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody("Run not found"))
	}
	return c.JSON(http.StatusOK, envelope(run))
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	runs, err := s.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	if runs == nil {
		runs = []ingest.RunRecord{}
	}
	return c.JSON(http.StatusOK, envelope(runs))
}

type createProjectRequest struct {
	RegistrationID string  `json:"registration_id"`
	Name           string  `json:"project_name"`
	PromoterName   string  `json:"promoter_name"`
	ProjectType    string  `json:"project_type"`
	Status         string  `json:"project_status"`
	District       string  `json:"district"`
	Locality       string  `json:"locality"`
	Pincode        string  `json:"pincode"`
	Address        string  `json:"address"`
	ApprovedOn     string  `json:"approved_on"`
	CompletionDate string  `json:"completion_date"`
	TotalUnits     int     `json:"total_units"`
	AvailableUnits int     `json:"available_units"`
	ProjectArea    float64 `json:"project_area"`
	TotalBuildings int     `json:"total_buildings"`
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request"))
	}
	if req.RegistrationID == "" || req.Name == "" || req.District == "" {
		return c.JSON(http.StatusBadRequest, errorBody("registration_id, project_name and district are required"))
	}
	if req.AvailableUnits > req.TotalUnits {
		return c.JSON(http.StatusBadRequest, errorBody("available_units cannot exceed total_units"))
	}

	rec := models.ProjectRecord{
		RegistrationID:    req.RegistrationID,
		Name:              req.Name,
		PromoterName:      req.PromoterName,
		ProjectType:       ingest.ClassifyProjectType(req.ProjectType),
		Status:            ingest.ClassifyStatus(req.Status),
		District:          req.District,
		Locality:          req.Locality,
		Pincode:           req.Pincode,
		Address:           req.Address,
		ApprovedOn:        req.ApprovedOn,
		CompletionDate:    req.CompletionDate,
		TotalUnits:        req.TotalUnits,
		AvailableUnits:    req.AvailableUnits,
		BookingPercentage: ingest.BookingPercentage(req.TotalUnits, req.AvailableUnits),
		ProjectArea:       req.ProjectArea,
		TotalBuildings:    req.TotalBuildings,
		Provenance:        models.ProvenanceManual,
	}

	created, err := s.Store.InsertProject(c.Request().Context(), rec)
	if err != nil {
		if err == db.ErrDuplicateRegistration {
			return c.JSON(http.StatusConflict, errorBody("A project with this registration_id already exists"))
		}
		c.Logger().Errorf("Failed to create project: %v", err)
		return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error"))
	}
	return c.JSON(http.StatusCreated, envelope(created))
}

// uploadRow keeps every column as text so a half-filled spreadsheet never
// fails the whole file; coercion happens in the normalizer.
type uploadRow struct {
	RegistrationID string `csv:"registration_id" json:"registration_id"`
	ProjectName    string `csv:"project_name" json:"project_name"`
	PromoterName   string `csv:"promoter_name" json:"promoter_name"`
	ProjectType    string `csv:"project_type" json:"project_type"`
	ProjectStatus  string `csv:"project_status" json:"project_status"`
	District       string `csv:"district" json:"district"`
	Locality       string `csv:"locality" json:"locality"`
	Pincode        string `csv:"pincode" json:"pincode"`
	Address        string `csv:"address" json:"address"`
	ApprovedOn     string `csv:"approved_on" json:"approved_on"`
	CompletionDate string `csv:"completion_date" json:"completion_date"`
	TotalUnits     string `csv:"total_units" json:"total_units"`
	AvailableUnits string `csv:"available_units" json:"available_units"`
	ProjectArea    string `csv:"project_area" json:"project_area"`
	TotalBuildings string `csv:"total_buildings" json:"total_buildings"`
}

func (r uploadRow) toRawRecord() ingest.RawRecord {
	return ingest.RawRecord{Fields: map[string]string{
		"registration_id": r.RegistrationID,
		"project_name":    r.ProjectName,
		"promoter_name":   r.PromoterName,
		"project_type":    r.ProjectType,
		"project_status":  r.ProjectStatus,
		"district":        r.District,
		"locality":        r.Locality,
		"pincode":         r.Pincode,
		"address":         r.Address,
		"approved_on":     r.ApprovedOn,
		"completion_date": r.CompletionDate,
		"total_units":     r.TotalUnits,
		"available_units": r.AvailableUnits,
		"project_area":    r.ProjectArea,
		"total_buildings": r.TotalBuildings,
	}}
}

// handleBulkUpload takes a CSV or JSON batch of manually collected rows and
// runs them through the same dedupe/normalize path as live extraction.
func (s *Server) handleBulkUpload(c echo.Context) error {
	rows, err := s.readUploadRows(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}
	if len(rows) == 0 {
		return c.JSON(http.StatusBadRequest, errorBody("No rows in upload"))
	}

	raw := make([]ingest.RawRecord, 0, len(rows))
	for _, row := range rows {
		raw = append(raw, row.toRawRecord())
	}

	deduped := ingest.Dedupe(raw)
	records := make([]models.ProjectRecord, 0, len(deduped))
	dropped := 0
	for _, r := range deduped {
		rec, err := ingest.Normalize(r)
		if err != nil {
			dropped++
			continue
		}
		rec.Provenance = models.ProvenanceManual
		records = append(records, rec)
	}

	inserted, updated, err := s.Store.UpsertBatch(c.Request().Context(), records)
	if err != nil {
		c.Logger().Errorf("Bulk upload failed: %v", err)
		return c.JSON(http.StatusInternalServerError, errorBody("Internal Server Error"))
	}

	return c.JSON(http.StatusOK, envelope(map[string]interface{}{
		"received": len(rows),
		"inserted": inserted,
		"updated":  updated,
		"dropped":  dropped,
	}))
}

func (s *Server) readUploadRows(c echo.Context) ([]uploadRow, error) {
	var reader io.Reader = c.Request().Body
	contentType := c.Request().Header.Get(echo.HeaderContentType)

	// Accept either a multipart file field or the raw body.
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("unable to open upload: %w", err)
		}
		defer f.Close()
		reader = f
		if ct := file.Header.Get("Content-Type"); ct != "" {
			contentType = ct
		}
		if strings.HasSuffix(strings.ToLower(file.Filename), ".json") {
			contentType = echo.MIMEApplicationJSON
		}
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("unable to read upload: %w", err)
	}

	var rows []uploadRow
	if strings.Contains(contentType, "json") {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("invalid JSON upload: %w", err)
		}
		return rows, nil
	}

	if err := csvutil.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("invalid CSV upload: %w", err)
	}
	return rows, nil
}

func (s *Server) handleClearProjects(c echo.Context) error {
	if c.QueryParam("confirm") != "true" {
		return c.JSON(http.StatusBadRequest, errorBody("Pass confirm=true to delete all projects"))
	}
	deleted, err := s.Store.ClearAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, envelope(map[string]interface{}{"deleted": deleted}))
}

// Auth

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request"))
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrUserExists {
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request"))
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrInvalidCreds {
			return c.JSON(http.StatusUnauthorized, errorBody("Invalid credentials"))
		}
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	return c.JSON(http.StatusOK, resp)
}

// Watchlist

func (s *Server) handleWatchProject(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
	}

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid project ID"))
	}

	if err := s.AuthService.WatchProject(c.Request().Context(), userID, projectID); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("Failed to watch project"))
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleUnwatchProject(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
	}

	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid project ID"))
	}

	if err := s.AuthService.UnwatchProject(c.Request().Context(), userID, projectID); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("Failed to unwatch project"))
	}
	return c.JSON(http.StatusOK, envelope(map[string]string{"status": "unwatched"}))
}

func (s *Server) handleGetWatchlist(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized"))
	}

	projects, err := s.AuthService.GetWatchedProjects(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("Failed to fetch watchlist"))
	}
	if projects == nil {
		projects = []models.ProjectRecord{}
	}
	return c.JSON(http.StatusOK, envelope(projects))
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody("Server admin configuration error"))
		}

		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, errorBody("Unauthorized admin access"))
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
