// Package weather holds the Spanish province catalog and an OpenWeather
// client that renders the daily subscription report.
package weather
