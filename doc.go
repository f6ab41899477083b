// Package popupportal is the backend for popup event registration: applicants fill in a
// per-popup form, pay an application fee when the popup charges one, and are reviewed or
// accepted automatically depending on the popup's policy.
/*
popup-portal/
├── cmd/
│   ├── server/       HTTP API
│   └── portalctl/    operator CLI (migrations, popups, reviewer keys, dev tokens)
└── internal/
    ├── config/       environment configuration and logger
    ├── database/     gorm/postgres connection, migrations, redis client
    ├── models/       popups, applications, fee payments, email logs, apps, audit logs
    ├── services/     policy resolver, state machine, fee ledger, webhooks, notifications
    ├── handlers/     gin handlers
    ├── middleware/   auth, cors, i18n, audit and request logging, rate limiting
    ├── router/       service and route wiring
    ├── metrics/      prometheus collectors
    ├── i18n/         message catalogs
    ├── utils/        jwt, api keys, validation, pagination, response envelope
    ├── testutil/     sqlite database and fakes for tests
    └── tests/        end to end API tests
*/
package popupportal
