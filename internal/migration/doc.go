/*
Package migration manages versioned schema migrations for the audit
ledger database. It supports PostgreSQL, MySQL and SQLite and is built
on golang-migrate.

Migration SQL files for each dialect are embedded via embed.FS and
applied through the golang-migrate engine. The package supports forward
migration, rollback, stepwise execution, jumping to a specific version
and forcing a version number.

Core types:

  - Migrator: the migration interface, covering Up/Down/DownAll/Steps/
    Goto/Force/Version/Status/Info/Close.
  - DefaultMigrator: the default implementation, wrapping a
    golang-migrate instance and the database connection.
  - Config: migration settings (database type, connection URL,
    migrations table name, lock timeout).
  - DatabaseType: database dialect enum (postgres/mysql/sqlite).
  - MigrationStatus / MigrationInfo: per-migration state and summary.
  - CLI: a terminal layer over Migrator with formatted output, wired
    into the runledgerd migrate subcommand.

Factory helpers NewMigratorFromConfig, NewMigratorFromDatabaseConfig
and NewMigratorFromURL build a migrator from the application config or
a raw URL. ParseDatabaseType and BuildDatabaseURL handle dialect
parsing and URL assembly.
*/
package migration
