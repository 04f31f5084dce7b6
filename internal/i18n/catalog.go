package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys are the English source strings.
const (
	MsgTitle            = "WebP Autogen"
	MsgIntro            = "WebP versions are created from all existing JPG/PNG files in the upload folder. Newly uploaded images are converted as well."
	MsgQuality          = "WebP quality (0-100)"
	MsgSave             = "Save settings"
	MsgSaved            = "Settings saved."
	MsgInvalidQuality   = "Invalid quality value. Please enter a number between 0 and 100."
	MsgSaveFailed       = "Settings could not be saved."
	MsgStart            = "Start WebP Conversion of all images already uploaded"
	MsgInProgress       = "Conversion in Progress"
	MsgNoImages         = "No images found to convert."
	MsgStatusFailed     = "Unable to retrieve conversion status."
	MsgStatusError      = "Error fetching conversion status."
	MsgNetwork          = "Network response was not ok"
	MsgCompleted        = "✅ WebP Conversion completed!"
	MsgConvertError     = "Error occurred during conversion:"
	MsgConverted        = "Converted:"
	MsgRemaining        = "Remaining:"
	MsgBatchDone        = "Done: %d WebP files created / %d skipped."
	MsgBatchButton      = "Start Convert Images (%d)"
	MsgNextSweep        = "Next scheduled sweep: %s"
	MsgApacheOnly       = "Note: the rewrite rule is only installed on Apache servers."
	MsgRewriteInstalled = "Rewrite rules are installed."
)

var Supported = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(Supported)

var german = map[string]string{
	MsgIntro:            "Aus allen vorhandenen JPG/PNG-Dateien im Upload-Ordner werden WebP-Versionen erstellt. Neu hochgeladene Bilder werden ebenfalls konvertiert.",
	MsgQuality:          "WebP-Qualität (0-100)",
	MsgSave:             "Einstellungen speichern",
	MsgSaved:            "Einstellungen gespeichert.",
	MsgInvalidQuality:   "Ungültiger Qualitätswert. Bitte eine Zahl zwischen 0 und 100 eingeben.",
	MsgSaveFailed:       "Einstellungen konnten nicht gespeichert werden.",
	MsgStart:            "WebP-Konvertierung aller bereits hochgeladenen Bilder starten",
	MsgInProgress:       "Konvertierung läuft",
	MsgNoImages:         "Keine Bilder zum Konvertieren gefunden.",
	MsgStatusFailed:     "Konvertierungsstatus konnte nicht abgerufen werden.",
	MsgStatusError:      "Fehler beim Abrufen des Konvertierungsstatus.",
	MsgNetwork:          "Netzwerkantwort war nicht in Ordnung",
	MsgCompleted:        "✅ WebP-Konvertierung abgeschlossen!",
	MsgConvertError:     "Fehler bei der Konvertierung:",
	MsgConverted:        "Konvertiert:",
	MsgRemaining:        "Verbleibend:",
	MsgBatchDone:        "Fertig: %d WebP-Dateien erstellt / %d übersprungen.",
	MsgBatchButton:      "Bilder konvertieren (%d)",
	MsgNextSweep:        "Nächster geplanter Durchlauf: %s",
	MsgApacheOnly:       "Hinweis: Die Rewrite-Regel wird nur auf Apache-Servern installiert.",
	MsgRewriteInstalled: "Rewrite-Regeln sind installiert.",
}

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range german {
		_ = b.SetString(language.German, key, text)
	}
	return b
}

// Match picks the best supported language for an Accept-Language header.
func Match(acceptLanguage string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLanguage)
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(cat))
}

// ClientStrings are the messages the browser poller needs, keyed by source string.
func ClientStrings(p *message.Printer) map[string]string {
	keys := []string{
		MsgStart, MsgInProgress, MsgNoImages, MsgStatusFailed, MsgStatusError,
		MsgNetwork, MsgCompleted, MsgConvertError, MsgConverted, MsgRemaining,
	}
	ret := make(map[string]string, len(keys))
	for _, key := range keys {
		ret[key] = p.Sprintf(key)
	}
	return ret
}
