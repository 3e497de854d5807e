package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(middleware.Timeout(90 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/bootstrap", apiHandler.BootstrapHandler)
		r.Post("/signin", apiHandler.SignInHandler)

		// Session-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/signout", apiHandler.SignOutHandler)
			r.Get("/state", apiHandler.StateHandler)

			r.Get("/profiles", apiHandler.ListProfilesHandler)
			r.Post("/profiles", apiHandler.AddProfileHandler)
			r.Delete("/profiles/{profileID}", apiHandler.DeleteProfileHandler)
			r.Post("/profiles/{profileID}/activate", apiHandler.ActivateProfileHandler)
			r.Get("/profiles/{profileID}/scans", apiHandler.ListScansHandler)

			r.Post("/scans", apiHandler.AnalyzeScanHandler)

			r.Get("/medications", apiHandler.ListMedicationsHandler)
			r.Post("/medications", apiHandler.AddMedicationHandler)
			r.Get("/medications/info", apiHandler.MedicationInfoHandler)
			r.Delete("/medications/{medicationID}", apiHandler.DeleteMedicationHandler)
			r.Post("/medications/{medicationID}/taken", apiHandler.MarkTakenHandler)

			r.Get("/chat/messages", apiHandler.ChatHistoryHandler)
			r.Post("/chat/messages", apiHandler.PostMessageHandler)
			r.Delete("/chat/messages", apiHandler.ResetChatHandler)
			r.Post("/chat/documents", apiHandler.ChatDocumentHandler)

			r.Get("/insurance", apiHandler.GetInsuranceHandler)
			r.Post("/insurance", apiHandler.UploadInsuranceHandler)
			r.Post("/nutrition", apiHandler.NutritionHandler)

			r.Get("/wearable", apiHandler.WearableHandler)
			r.Get("/stats", apiHandler.StatsHandler)
			r.Get("/export", apiHandler.ExportHandler)
			r.Post("/export/archive", apiHandler.ArchiveExportHandler)
		})
	})

	return r
}
