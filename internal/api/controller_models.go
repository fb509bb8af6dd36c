package api

// ControllerModel defines capabilities and initialisation commands for a
// sorter controller board
type ControllerModel struct {
	Slug            string   `json:"slug"`
	DisplayName     string   `json:"display_name"`
	HasDiverter     bool     `json:"has_diverter"`
	HasConveyor     bool     `json:"has_conveyor"`
	HasBinSensors   bool     `json:"has_bin_sensors"`
	DefaultBaudRate int      `json:"default_baud_rate"`
	InitCommands    []string `json:"init_commands"`
	Description     string   `json:"description"`
}

// SupportedControllerModels is the application-level registry of controller models
var SupportedControllerModels = map[string]ControllerModel{
	"binsort-mk1": {
		Slug:            "binsort-mk1",
		DisplayName:     "BinSort Mk1 (Uno)",
		HasDiverter:     true,
		HasConveyor:     false,
		HasBinSensors:   false,
		DefaultBaudRate: 9600,
		InitCommands:    []string{"HOME", "LED:0", "STATUS"},
		Description:     "Servo diverter gate over a five-bin row with an LED category indicator",
	},
	"binsort-mk2": {
		Slug:            "binsort-mk2",
		DisplayName:     "BinSort Mk2 (Mega)",
		HasDiverter:     true,
		HasConveyor:     true,
		HasBinSensors:   true,
		DefaultBaudRate: 115200,
		InitCommands:    []string{"HOME", "LED:0", "BELT:0", "STATUS"},
		Description:     "Conveyor-fed diverter with IR bin-full sensors",
	},
}

// GetControllerModel looks up a controller model by slug
func GetControllerModel(slug string) (ControllerModel, bool) {
	model, ok := SupportedControllerModels[slug]
	return model, ok
}

// GetAllControllerModels returns a slice of all supported controller models
func GetAllControllerModels() []ControllerModel {
	models := make([]ControllerModel, 0, len(SupportedControllerModels))
	for _, model := range SupportedControllerModels {
		models = append(models, model)
	}
	return models
}
