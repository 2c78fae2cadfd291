package sqlinline

const QCreateIntegrationTokensTable = `--sql 867b582c-d7e3-4609-9f32-c10f640316fc
create table if not exists integration_tokens (
    id         uuid        primary key default gen_random_uuid(),
    provider   text        not null unique,
    token      text        not null,
    properties jsonb       not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QSelectConfiguredProviders = `--sql 3cbc4ba3-d9b9-49a1-832f-0747a8db39cd
select provider
from integration_tokens
where btrim(token) <> ''
order by provider;
`

const QUpsertIntegrationToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
with incoming as (
    select
        $1::text as provider,
        $2::text as token,
        coalesce($3::jsonb, '{}'::jsonb) as properties
)
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), (select provider from incoming), (select token from incoming), (select properties from incoming), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
