package handlers

import (
	"bytes"
	"html/template"
	"log"
	"net/url"
	"strings"

	"app-link-service/middleware"
	"app-link-service/models"
	"app-link-service/services"

	"github.com/gofiber/fiber/v2"
)

var landingTemplate = template.Must(template.New("landing").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.AppName}}</title>
</head>
<body>
<h1>{{.AppName}}</h1>
<p>Install the app to continue.</p>
{{if .IOSStoreURL}}<p><a id="ios" href="{{.IOSStoreURL}}">Download on the App Store</a></p>{{end}}
{{if .AndroidStoreURL}}<p><a id="android" href="{{.AndroidStoreURL}}">Get it on Google Play</a></p>{{end}}
{{if .Token}}
<script>
(function () {
  var body = {
    referrer_token: {{.Token}},
    timezone: (Intl.DateTimeFormat().resolvedOptions() || {}).timeZone || null,
    language: navigator.language || null,
    screen_width: window.screen ? window.screen.width : null,
    screen_height: window.screen ? window.screen.height : null
  };
  try {
    fetch({{.SignalsURL}}, {
      method: "POST",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify(body),
      keepalive: true
    });
  } catch (e) {}
})();
</script>
{{end}}
</body>
</html>
`))

type landingData struct {
	AppName         string
	Token           string
	IOSStoreURL     string
	AndroidStoreURL string
	SignalsURL      string
}

// SetupLandingRoutes registers the catch-all landing route. It must be
// registered after every other GET route.
func SetupLandingRoutes(app *fiber.App, h *DeferredHandler) {
	app.Get("/:prefix/*", middleware.BotFilter(), h.Landing)
}

// Landing records a deferred link for the clicked path and renders the
// store page. Crawlers get the page without a link being recorded.
func (h *DeferredHandler) Landing(c *fiber.Ctx) error {
	ctx := c.UserContext()

	app, err := h.Apps.GetByPrefix(ctx, c.Params("prefix"))
	if err != nil {
		log.Printf("❌ [LANDING] %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("internal server error")
	}
	if app == nil {
		return c.Status(fiber.StatusNotFound).SendString("not found")
	}

	target := models.ParseTarget("/" + strings.TrimPrefix(c.Params("*"), "/"))
	data := landingData{
		AppName:         app.Name,
		IOSStoreURL:     app.IOSStoreURL,
		AndroidStoreURL: app.AndroidStoreURL,
		SignalsURL:      "/api/deferred/signals",
	}

	if !middleware.IsBot(c) {
		ip := middleware.ClientIP(c)
		link, err := h.Links.Store(ctx, services.StoreParams{
			AppID:       app.ID,
			Fingerprint: services.Fingerprint(ip, c.Get(fiber.HeaderUserAgent)),
			Target:      target,
			IP:          ip,
		})
		if err != nil {
			// The visitor still gets the store links; only attribution is lost.
			log.Printf("⚠️ [LANDING] store deferred link for %s%s: %v", app.Prefix, target.Path, err)
		} else {
			data.Token = link.ReferrerToken
			data.AndroidStoreURL = withPlayReferrer(app.AndroidStoreURL, link.ReferrerToken)
		}
	}

	var buf bytes.Buffer
	if err := landingTemplate.Execute(&buf, data); err != nil {
		log.Printf("❌ [LANDING] render: %v", err)
		return c.Status(fiber.StatusInternalServerError).SendString("internal server error")
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// withPlayReferrer adds referrer=<token> to a Play Store URL so the install
// referrer API hands the token to the app on first launch.
func withPlayReferrer(storeURL, token string) string {
	if storeURL == "" || token == "" {
		return storeURL
	}
	u, err := url.Parse(storeURL)
	if err != nil {
		return storeURL
	}
	q := u.Query()
	q.Set("referrer", token)
	u.RawQuery = q.Encode()
	return u.String()
}
