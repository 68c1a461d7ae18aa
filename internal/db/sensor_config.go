package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/ldscan/internal/serialport"
)

// SensorConfig is a stored serial port configuration for a LiDAR sensor.
type SensorConfig struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	SensorModel string `json:"sensor_model"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// PortOptions returns the serial options described by the row.
func (c *SensorConfig) PortOptions() serialport.PortOptions {
	return serialport.PortOptions{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
	}
}

// ErrSensorConfigNotFound is returned by updates and deletes of a missing row.
var ErrSensorConfigNotFound = errors.New("sensor config not found")

const sensorConfigColumns = `id, name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, sensor_model, created_at, updated_at`

func scanSensorConfig(row interface{ Scan(...any) error }) (SensorConfig, error) {
	var c SensorConfig
	var enabled int
	err := row.Scan(&c.ID, &c.Name, &c.PortPath, &c.BaudRate, &c.DataBits, &c.StopBits,
		&c.Parity, &enabled, &c.Description, &c.SensorModel, &c.CreatedAt, &c.UpdatedAt)
	c.Enabled = enabled == 1
	return c, err
}

// GetSensorConfigs returns all sensor configurations.
func (db *DB) GetSensorConfigs() ([]SensorConfig, error) {
	return db.querySensorConfigs(`SELECT ` + sensorConfigColumns + `
	          FROM lidar_sensor_config
	          ORDER BY created_at ASC, id ASC`)
}

// GetEnabledSensorConfigs returns the enabled sensor configurations.
func (db *DB) GetEnabledSensorConfigs() ([]SensorConfig, error) {
	return db.querySensorConfigs(`SELECT ` + sensorConfigColumns + `
	          FROM lidar_sensor_config
	          WHERE enabled = 1
	          ORDER BY created_at ASC, id ASC`)
}

func (db *DB) querySensorConfigs(query string) ([]SensorConfig, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor configs: %w", err)
	}
	defer rows.Close()

	var configs []SensorConfig
	for rows.Next() {
		c, err := scanSensorConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sensor config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetSensorConfig returns one sensor configuration, or nil if id does not
// exist.
func (db *DB) GetSensorConfig(id int) (*SensorConfig, error) {
	c, err := scanSensorConfig(db.QueryRow(`SELECT `+sensorConfigColumns+`
	          FROM lidar_sensor_config
	          WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor config: %w", err)
	}
	return &c, nil
}

// CreateSensorConfig inserts c after normalising its serial options and
// sets c.ID.
func (db *DB) CreateSensorConfig(c *SensorConfig) (int64, error) {
	if err := c.normalize(); err != nil {
		return 0, err
	}

	result, err := db.Exec(`INSERT INTO lidar_sensor_config (name, port_path, baud_rate, data_bits, stop_bits, parity, enabled, description, sensor_model)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolInt(c.Enabled), c.Description, c.SensorModel)
	if err != nil {
		return 0, fmt.Errorf("failed to create sensor config: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	c.ID = int(id)
	return id, nil
}

// UpdateSensorConfig replaces the row with c.ID.
func (db *DB) UpdateSensorConfig(c *SensorConfig) error {
	if err := c.normalize(); err != nil {
		return err
	}

	result, err := db.Exec(`UPDATE lidar_sensor_config
	          SET name = ?, port_path = ?, baud_rate = ?, data_bits = ?, stop_bits = ?,
	              parity = ?, enabled = ?, description = ?, sensor_model = ?
	          WHERE id = ?`,
		c.Name, c.PortPath, c.BaudRate, c.DataBits, c.StopBits, c.Parity, boolInt(c.Enabled), c.Description, c.SensorModel, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update sensor config: %w", err)
	}
	return expectOneRow(result, c.ID)
}

// DeleteSensorConfig removes the row with id.
func (db *DB) DeleteSensorConfig(id int) error {
	result, err := db.Exec(`DELETE FROM lidar_sensor_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sensor config: %w", err)
	}
	return expectOneRow(result, id)
}

func (c *SensorConfig) normalize() error {
	if c.Name == "" {
		return fmt.Errorf("sensor config name is required")
	}
	if c.PortPath == "" {
		return fmt.Errorf("sensor config port_path is required")
	}
	opts, err := c.PortOptions().Normalize()
	if err != nil {
		return fmt.Errorf("sensor config %q: %w", c.Name, err)
	}
	c.BaudRate, c.DataBits, c.StopBits, c.Parity = opts.BaudRate, opts.DataBits, opts.StopBits, opts.Parity
	return nil
}

func expectOneRow(result sql.Result, id int) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: id %d", ErrSensorConfigNotFound, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
