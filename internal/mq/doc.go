// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация команд на сбор
//   - consumer.go   — потребление результатов анализа
//
// Очереди:
//   - collection.jobs    — команды на сбор; потребитель — внешний VML pipeline
//   - collection.results — результаты анализа; потребитель — ingestor
//   - dlq.results        — некорректные результаты, ручной разбор
//
// Тела сообщений — голый JSON без служебного конверта: формат задан
// внешним pipeline'ом и должен совпадать с ним байт в байт по именам полей.
package mq
