package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// SerialConfig is a row of sorter_serial_config: one named way of reaching
// a sorter controller. Several rows may be enabled; the reload path
// applies the oldest enabled one.
type SerialConfig struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	PortPath        string `json:"port_path"`
	BaudRate        int    `json:"baud_rate"`
	DataBits        int    `json:"data_bits"`
	StopBits        int    `json:"stop_bits"`
	Parity          string `json:"parity"`
	Enabled         bool   `json:"enabled"`
	Description     string `json:"description"`
	ControllerModel string `json:"controller_model"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// serialConfigCols matches the scan order in scanSerialConfig.
const serialConfigCols = "id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, controller_model, created_at, updated_at"

func scanSerialConfig(scan func(dest ...any) error) (SerialConfig, error) {
	var c SerialConfig
	var enabled int
	if err := scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
		&c.Parity, &enabled, &c.Description, &c.ControllerModel, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return SerialConfig{}, err
	}
	c.Enabled = enabled == 1
	return c, nil
}

func (db *DB) querySerialConfigs(clause string) ([]SerialConfig, error) {
	rows, err := db.Query("SELECT " + serialConfigCols + " FROM sorter_serial_config " + clause)
	if err != nil {
		return nil, fmt.Errorf("failed to query serial configs: %w", err)
	}
	defer rows.Close()

	var configs []SerialConfig
	for rows.Next() {
		c, err := scanSerialConfig(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan serial config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetSerialConfigs returns every configured controller port, oldest first.
func (db *DB) GetSerialConfigs() ([]SerialConfig, error) {
	return db.querySerialConfigs("ORDER BY created_at ASC, id ASC")
}

// GetEnabledSerialConfigs returns the ports flagged enabled, oldest first.
func (db *DB) GetEnabledSerialConfigs() ([]SerialConfig, error) {
	return db.querySerialConfigs("WHERE enabled = 1 ORDER BY created_at ASC, id ASC")
}

// GetSerialConfig fetches one port config. Unknown IDs return (nil, nil).
func (db *DB) GetSerialConfig(id int) (*SerialConfig, error) {
	row := db.QueryRow("SELECT "+serialConfigCols+" FROM sorter_serial_config WHERE id = ?", id)

	c, err := scanSerialConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get serial config: %w", err)
	}
	return &c, nil
}

// CreateSerialConfig inserts a new port config and returns its row ID.
func (db *DB) CreateSerialConfig(c *SerialConfig) (int64, error) {
	result, err := db.Exec(`INSERT INTO sorter_serial_config
	        (name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, controller_model)
	        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits,
		c.Parity, boolInt(c.Enabled), c.Description, c.ControllerModel)
	if err != nil {
		return 0, fmt.Errorf("failed to create serial config: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// UpdateSerialConfig rewrites an existing row and bumps updated_at.
func (db *DB) UpdateSerialConfig(c *SerialConfig) error {
	result, err := db.Exec(`UPDATE sorter_serial_config
	        SET name = ?, port_path = ?, baud_rate = ?, data_bits = ?, stop_bits = ?,
	            parity = ?, enabled = ?, description = ?, controller_model = ?,
	            updated_at = strftime('%s', 'now')
	        WHERE id = ?`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits,
		c.Parity, boolInt(c.Enabled), c.Description, c.ControllerModel, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update serial config: %w", err)
	}
	return requireSerialConfigRow(result, c.ID)
}

// DeleteSerialConfig removes a port config.
func (db *DB) DeleteSerialConfig(id int) error {
	result, err := db.Exec(`DELETE FROM sorter_serial_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete serial config: %w", err)
	}
	return requireSerialConfigRow(result, id)
}

// requireSerialConfigRow turns a zero-row UPDATE or DELETE into a
// not-found error; the API layer maps that to a 404.
func requireSerialConfigRow(result sql.Result, id int) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("serial config with ID %d not found", id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
